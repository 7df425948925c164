package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avln0x/sweepguard/internal/metrics"
	"github.com/avln0x/sweepguard/internal/resilience"
	"github.com/avln0x/sweepguard/internal/txbuild"
)

// RepriceFunc rebuilds the bundle for a later target block, typically with an
// escalated priority fee. targetIndex 0 is currentBlock+1. Returning an error
// makes the target fall back to the base bundle.
type RepriceFunc func(ctx context.Context, targetIndex int) (*txbuild.Bundle, error)

// TargetOutcome is the resolution of one target block.
type TargetOutcome struct {
	TargetBlock uint64
	Resolution  Resolution
}

// RaceResult is the overall outcome across all target blocks.
type RaceResult struct {
	Included    bool
	TxHash      common.Hash
	BlockNumber uint64
	Reason      string
	Outcomes    []TargetOutcome // outcomes observed before the race was decided
}

// SubmitterConfig tunes the racing behavior.
type SubmitterConfig struct {
	// Simulate runs a relay-side dry run per target before sending; a failed
	// simulation counts the target as passed without touching eth_sendBundle.
	Simulate bool
	// SubmissionTimeout bounds one submit-and-await cycle per target.
	SubmissionTimeout time.Duration
}

// Submitter races a signed bundle across several consecutive future blocks
// against a private relay, accepting the first inclusion and ignoring the
// rest.
type Submitter struct {
	relay   Relay
	breaker *resilience.CircuitBreaker
	cfg     SubmitterConfig
	reprice RepriceFunc
	log     *slog.Logger
	met     *metrics.Metrics
}

func NewSubmitter(r Relay, breaker *resilience.CircuitBreaker, cfg SubmitterConfig, log *slog.Logger, met *metrics.Metrics) *Submitter {
	if cfg.SubmissionTimeout <= 0 {
		cfg.SubmissionTimeout = 45 * time.Second
	}
	return &Submitter{relay: r, breaker: breaker, cfg: cfg, log: log, met: met}
}

// SetReprice installs per-target re-pricing. Optional; without it every
// target submits the same bundle.
func (s *Submitter) SetReprice(fn RepriceFunc) { s.reprice = fn }

// SubmitToTargets issues one independent submission per block from
// currentBlock+1 through currentBlock+targetCount, concurrently. The first
// Included resolution wins; submissions resolving after that are not canceled
// but their outcomes are discarded. If every target settles without
// inclusion, the overall result is a failure with a summary reason.
func (s *Submitter) SubmitToTargets(ctx context.Context, bundle *txbuild.Bundle, currentBlock uint64, targetCount int) (*RaceResult, error) {
	if err := txbuild.Validate(bundle); err != nil {
		return nil, err
	}
	if targetCount <= 0 {
		targetCount = 1
	}

	// buffered so late resolutions never block a goroutine after the race
	// is decided
	outcomes := make(chan TargetOutcome, targetCount)
	for i := 0; i < targetCount; i++ {
		idx := i
		target := currentBlock + 1 + uint64(i)
		go func() {
			outcomes <- TargetOutcome{
				TargetBlock: target,
				Resolution:  s.raceTarget(ctx, bundle, idx, target),
			}
		}()
	}

	res := &RaceResult{}
	for settled := 0; settled < targetCount; settled++ {
		var out TargetOutcome
		select {
		case out = <-outcomes:
		case <-ctx.Done():
			res.Reason = fmt.Sprintf("canceled after %d/%d targets settled", settled, targetCount)
			return res, ctx.Err()
		}

		res.Outcomes = append(res.Outcomes, out)
		if s.met != nil {
			s.met.SubmissionResolved(out.Resolution.Status.String())
		}
		s.log.Info("target settled",
			"target", out.TargetBlock,
			"outcome", out.Resolution.String(),
		)

		if out.Resolution.Status == StatusIncluded {
			res.Included = true
			res.TxHash = out.Resolution.TxHash
			res.BlockNumber = out.Resolution.BlockNumber
			res.Reason = fmt.Sprintf("included in block %d", out.Resolution.BlockNumber)
			return res, nil
		}
	}

	res.Reason = fmt.Sprintf("no inclusion across blocks %d-%d", currentBlock+1, currentBlock+uint64(targetCount))
	return res, nil
}

// raceTarget runs one submission: reprice → optional simulation → send →
// await. Transport errors get exactly one extra attempt before counting as a
// miss; per-target failures never abort siblings.
func (s *Submitter) raceTarget(ctx context.Context, base *txbuild.Bundle, idx int, target uint64) Resolution {
	bundle := base
	if s.reprice != nil && idx > 0 {
		if rb, err := s.reprice(ctx, idx); err == nil && txbuild.Validate(rb) == nil {
			bundle = rb
		} else if err != nil {
			s.log.Warn("reprice failed, using base bundle", "target", target, "error", err)
		}
	}

	if s.cfg.Simulate {
		if sim, ok := s.relay.(Simulator); ok {
			if err := sim.Simulate(ctx, bundle, target); err != nil {
				s.log.Warn("simulation failed, target skipped", "target", target, "error", err)
				return Resolution{Status: StatusPassed}
			}
		}
	}

	var last Resolution
	for attempt := 0; attempt < 2; attempt++ {
		last = s.submitOnce(ctx, bundle, target)
		if last.Status != StatusTransportError {
			return last
		}
		if ctx.Err() != nil {
			return last
		}
	}
	return last
}

func (s *Submitter) submitOnce(ctx context.Context, bundle *txbuild.Bundle, target uint64) Resolution {
	var resolution Resolution
	err := resilience.WithTimeout(ctx, s.cfg.SubmissionTimeout, func(ctx context.Context) error {
		return s.breaker.Do(ctx, func(ctx context.Context) error {
			h, err := s.relay.Submit(ctx, bundle, target)
			if err != nil {
				return err
			}
			resolution, err = s.relay.AwaitResolution(ctx, h)
			return err
		})
	})
	if err != nil {
		var open *resilience.ErrBreakerOpen
		if errors.As(err, &open) {
			return Resolution{Status: StatusTransportError, Err: open.Error()}
		}
		return Resolution{Status: StatusTransportError, Err: err.Error()}
	}
	return resolution
}

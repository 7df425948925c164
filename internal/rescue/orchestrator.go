// Package rescue coordinates one attempt at a time: detect, plan, build,
// submit, report.
package rescue

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avln0x/sweepguard/internal/chainio"
	"github.com/avln0x/sweepguard/internal/gasfee"
	"github.com/avln0x/sweepguard/internal/metrics"
	"github.com/avln0x/sweepguard/internal/relay"
	"github.com/avln0x/sweepguard/internal/resilience"
	"github.com/avln0x/sweepguard/internal/txbuild"
	"github.com/avln0x/sweepguard/internal/watch"
)

// State is the orchestrator position in the attempt lifecycle.
type State int32

const (
	StateIdle State = iota
	StateDetected
	StatePlanning
	StateBuilding
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetected:
		return "detected"
	case StatePlanning:
		return "planning"
	case StateBuilding:
		return "building"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config is the rescue policy for one wallet.
type Config struct {
	// Destination receives the swept funds.
	Destination common.Address
	// MinSweepWei is the economic floor: plans sweeping less are not
	// submitted.
	MinSweepWei *big.Int
	// TargetCount is how many consecutive future blocks each attempt races.
	TargetCount int
	// TipEscalation re-prices later targets: priority fee × TipEscalation^i.
	// Values <= 1 disable escalation.
	TipEscalation float64
	// DryRun plans and builds but never submits; attempts terminate as
	// failed with reason "dry run".
	DryRun bool
}

// Orchestrator admits at most one rescue attempt at a time and drives it to
// a terminal Result. The captured trigger balance is used for the whole
// attempt; it is deliberately not re-read mid-flight (a drained balance
// surfaces as a failed submission, not a rebuilt plan).
type Orchestrator struct {
	cfg       Config
	wallet    common.Address
	chain     chainio.Provider
	estimator *gasfee.Estimator
	builder   *txbuild.Builder
	submitter *relay.Submitter
	hooks     Hooks
	stopWatch func()
	log       *slog.Logger
	met       *metrics.Metrics

	state   atomic.Int32
	attempt sync.WaitGroup
}

// NewOrchestrator wires the pipeline. stopWatch is invoked once after a
// successful sweep, when nothing rescuable remains in the wallet.
func NewOrchestrator(
	cfg Config,
	wallet common.Address,
	chain chainio.Provider,
	estimator *gasfee.Estimator,
	builder *txbuild.Builder,
	submitter *relay.Submitter,
	hooks Hooks,
	stopWatch func(),
	log *slog.Logger,
	met *metrics.Metrics,
) *Orchestrator {
	if cfg.TargetCount <= 0 {
		cfg.TargetCount = 5
	}
	if cfg.MinSweepWei == nil {
		cfg.MinSweepWei = big.NewInt(0)
	}
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Orchestrator{
		cfg:       cfg,
		wallet:    wallet,
		chain:     chain,
		estimator: estimator,
		builder:   builder,
		submitter: submitter,
		hooks:     hooks,
		stopWatch: stopWatch,
		log:       log.With("wallet", wallet.Hex()),
		met:       met,
	}
}

// State returns the current lifecycle position.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Watch adapts the orchestrator into a watcher callback bound to ctx.
func (o *Orchestrator) Watch(ctx context.Context) watch.Callback {
	return func(balance *big.Int) { o.OnBalanceIncrease(ctx, balance) }
}

// OnBalanceIncrease admits a detected increase. The Idle→Detected transition
// is a single compare-and-swap, so concurrent triggers are serialized: all
// but one are dropped.
func (o *Orchestrator) OnBalanceIncrease(ctx context.Context, balance *big.Int) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateDetected)) {
		o.log.Info("balance increase dropped, attempt already in flight",
			"state", o.State().String(),
			"balance", gasfee.FormatEther(balance),
		)
		if o.met != nil {
			o.met.TriggerDropped()
		}
		return
	}

	captured := new(big.Int).Set(balance)
	o.attempt.Add(1)
	go func() {
		defer o.attempt.Done()
		o.runAttempt(ctx, captured)
	}()
}

// WaitIdle blocks until the in-flight attempt (if any) reaches a terminal
// state. Used on shutdown so a racing submission is not abandoned mid-report.
func (o *Orchestrator) WaitIdle() { o.attempt.Wait() }

func (o *Orchestrator) runAttempt(ctx context.Context, balance *big.Int) {
	o.hooks.AttemptStarted(o.wallet, balance)

	o.enter(StatePlanning)
	est, err := o.estimator.Estimate(ctx)
	if err != nil {
		o.fail(fmt.Sprintf("fee estimation: %v", err))
		return
	}
	if !gasfee.Viable(balance, o.cfg.MinSweepWei, est) {
		o.fail("not economically viable")
		return
	}
	plan, err := gasfee.PlanSweep(balance, est)
	if err != nil {
		// viability already vetted the plan; this only races a nil estimate
		o.fail(fmt.Sprintf("planning: %v", err))
		return
	}
	o.log.Info("sweep planned",
		"balance", gasfee.FormatEther(plan.Balance),
		"gasCost", gasfee.FormatEther(plan.TotalCost),
		"buffer", gasfee.FormatEther(plan.Buffer),
		"sweep", gasfee.FormatEther(plan.SweepAmount),
	)

	o.enter(StateBuilding)
	bundle, err := o.builder.Build(ctx, o.cfg.Destination, plan.SweepAmount, est)
	if err != nil {
		o.fail(fmt.Sprintf("build: %v", err))
		return
	}

	if o.cfg.DryRun {
		o.fail("dry run")
		return
	}

	o.enter(StateSubmitting)
	var currentBlock uint64
	err = resilience.DefaultRetryPolicy.Run(ctx, func(ctx context.Context) error {
		var berr error
		currentBlock, berr = o.chain.BlockNumber(ctx)
		return berr
	})
	if err != nil {
		o.fail(fmt.Sprintf("block number: %v", err))
		return
	}

	o.submitter.SetReprice(o.repricer(balance, est))
	race, err := o.submitter.SubmitToTargets(ctx, bundle, currentBlock, o.cfg.TargetCount)
	if err != nil {
		o.fail(fmt.Sprintf("submission: %v", err))
		return
	}
	if !race.Included {
		o.fail(race.Reason)
		return
	}
	o.succeed(Result{
		Success:       true,
		TxHash:        race.TxHash.Hex(),
		BlockNumber:   race.BlockNumber,
		AmountRescued: plan.SweepAmount,
	})
}

// repricer rebuilds the bundle for later targets with an escalated priority
// fee, re-planned from the balance captured at detection. Targets whose
// escalated cost would push the sweep negative fall back to base pricing.
func (o *Orchestrator) repricer(balance *big.Int, base *gasfee.Estimate) relay.RepriceFunc {
	if o.cfg.TipEscalation <= 1 {
		return nil
	}
	return func(ctx context.Context, targetIndex int) (*txbuild.Bundle, error) {
		esc := scaleEstimate(base, o.cfg.TipEscalation, targetIndex)
		plan, err := gasfee.PlanSweep(balance, esc)
		if err != nil {
			return nil, fmt.Errorf("escalated plan for target %d: %w", targetIndex, err)
		}
		return o.builder.Build(ctx, o.cfg.Destination, plan.SweepAmount, esc)
	}
}

// scaleEstimate raises the priority fee by mul^idx, keeping the base-fee
// component unchanged.
func scaleEstimate(base *gasfee.Estimate, mul float64, idx int) *gasfee.Estimate {
	factor := new(big.Float).SetFloat64(1)
	step := big.NewFloat(mul)
	for i := 0; i < idx; i++ {
		factor.Mul(factor, step)
	}
	tip := new(big.Float).SetInt(base.MaxPriorityFeePerGas)
	tip.Mul(tip, factor)
	newTip, _ := tip.Int(nil)

	maxFee := new(big.Int).Sub(base.MaxFeePerGas, base.MaxPriorityFeePerGas)
	maxFee.Add(maxFee, newTip)
	return &gasfee.Estimate{
		GasLimit:             base.GasLimit,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: newTip,
		TotalCost:            new(big.Int).Mul(maxFee, new(big.Int).SetUint64(base.GasLimit)),
	}
}

func (o *Orchestrator) enter(s State) {
	o.state.Store(int32(s))
	o.log.Debug("state", "state", s.String())
}

// fail reports the terminal result and returns to Idle; watching resumes.
func (o *Orchestrator) fail(reason string) {
	o.enter(StateFailed)
	res := Result{Success: false, Err: reason}
	if o.met != nil {
		o.met.AttemptFinished("failed")
	}
	o.hooks.AttemptFailed(o.wallet, res)
	o.enter(StateIdle)
}

// succeed reports the terminal result and stops watching: the wallet holds
// nothing rescuable anymore.
func (o *Orchestrator) succeed(res Result) {
	o.enter(StateSucceeded)
	if o.met != nil {
		o.met.AttemptFinished("succeeded")
		rescued, _ := new(big.Float).SetInt(res.AmountRescued).Float64()
		o.met.AmountRescued(rescued)
	}
	o.hooks.AttemptSucceeded(o.wallet, res)
	if o.stopWatch != nil {
		o.stopWatch()
	}
	o.enter(StateIdle)
}

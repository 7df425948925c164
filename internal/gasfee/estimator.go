// Package gasfee prices a rescue attempt and decides whether it is worth
// submitting at all. All balance and fee arithmetic is big.Int wei; floats
// appear only in log formatting.
package gasfee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/avln0x/sweepguard/internal/chainio"
	"github.com/avln0x/sweepguard/internal/resilience"
)

// TransferGasLimit is the intrinsic cost of a native transfer. The sweep is
// a plain value transfer, so the limit is fixed rather than estimated.
const TransferGasLimit = 21_000

// ErrFeeDataUnavailable means the fee source returned no usable value.
var ErrFeeDataUnavailable = errors.New("fee data unavailable")

// Estimate is the gas pricing for one rescue attempt. Immutable once
// produced; computed fresh per attempt.
type Estimate struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	TotalCost            *big.Int // GasLimit × MaxFeePerGas
}

// Estimator derives fee parameters from the chain with retry and breaker
// protection on the fee query.
type Estimator struct {
	chain       chainio.Provider
	maxPriority *big.Int
	retry       resilience.RetryPolicy
	breaker     *resilience.CircuitBreaker
	callTimeout time.Duration
	log         *slog.Logger
}

// NewEstimator builds an Estimator. maxPriorityWei caps the priority fee; the
// node's suggestion is used when it comes in under the cap.
func NewEstimator(chain chainio.Provider, maxPriorityWei *big.Int, retry resilience.RetryPolicy, breaker *resilience.CircuitBreaker, log *slog.Logger) *Estimator {
	return &Estimator{
		chain:       chain,
		maxPriority: new(big.Int).Set(maxPriorityWei),
		retry:       retry,
		breaker:     breaker,
		callTimeout: 10 * time.Second,
		log:         log,
	}
}

// Estimate reads the current base fee and prices the sweep at
// 2×baseFee + priority, a margin against next-block base fee increases.
func (e *Estimator) Estimate(ctx context.Context) (*Estimate, error) {
	var fd *chainio.FeeData
	err := e.retry.Run(ctx, func(ctx context.Context) error {
		return e.breaker.Do(ctx, func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, e.callTimeout, func(ctx context.Context) error {
				var ferr error
				fd, ferr = e.chain.FeeData(ctx)
				return ferr
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeeDataUnavailable, err)
	}
	if fd == nil || fd.BaseFee == nil || fd.BaseFee.Sign() < 0 {
		return nil, fmt.Errorf("%w: no base fee", ErrFeeDataUnavailable)
	}

	tip := new(big.Int).Set(e.maxPriority)
	if fd.SuggestedTip != nil && fd.SuggestedTip.Sign() > 0 && fd.SuggestedTip.Cmp(tip) < 0 {
		tip.Set(fd.SuggestedTip)
	}

	maxFee := new(big.Int).Lsh(fd.BaseFee, 1) // 2 × baseFee
	maxFee.Add(maxFee, tip)
	total := new(big.Int).Mul(maxFee, big.NewInt(TransferGasLimit))

	e.log.Debug("fee estimate",
		"baseFee", FormatGwei(fd.BaseFee),
		"tip", FormatGwei(tip),
		"maxFee", FormatGwei(maxFee),
		"totalCost", FormatEther(total),
	)
	return &Estimate{
		GasLimit:             TransferGasLimit,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		TotalCost:            total,
	}, nil
}

// Viable reports whether a sweep of balance clears minThreshold after gas and
// buffer. Planning failures count as not viable; nothing escapes.
func Viable(balance, minThreshold *big.Int, est *Estimate) bool {
	plan, err := PlanSweep(balance, est)
	if err != nil {
		return false
	}
	return plan.SweepAmount.Cmp(minThreshold) >= 0
}

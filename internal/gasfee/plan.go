package gasfee

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInsufficientBalance means the balance cannot cover gas plus buffer.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Plan is the economics of one sweep: what is spent, what is held back, and
// what actually moves.
type Plan struct {
	Balance     *big.Int
	TotalCost   *big.Int
	Buffer      *big.Int // 10% of TotalCost, held back against fee drift
	SweepAmount *big.Int // Balance − TotalCost − Buffer
}

// PlanSweep computes the sweep amount for balance under est. The plan is
// invalid unless the sweep amount is strictly positive.
func PlanSweep(balance *big.Int, est *Estimate) (*Plan, error) {
	if balance == nil || est == nil || est.TotalCost == nil {
		return nil, fmt.Errorf("%w: missing inputs", ErrInsufficientBalance)
	}
	buffer := new(big.Int).Div(est.TotalCost, big.NewInt(10))
	sweep := new(big.Int).Sub(balance, est.TotalCost)
	sweep.Sub(sweep, buffer)
	if sweep.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance %s ETH <= cost %s ETH + buffer %s ETH",
			ErrInsufficientBalance, FormatEther(balance), FormatEther(est.TotalCost), FormatEther(buffer))
	}
	return &Plan{
		Balance:     new(big.Int).Set(balance),
		TotalCost:   new(big.Int).Set(est.TotalCost),
		Buffer:      buffer,
		SweepAmount: sweep,
	}, nil
}

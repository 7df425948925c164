package rescue

import (
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avln0x/sweepguard/internal/gasfee"
)

// Result is the single terminal report of one rescue attempt.
type Result struct {
	Success       bool
	TxHash        string
	BlockNumber   uint64
	AmountRescued *big.Int
	Err           string
}

// Hooks receives lifecycle events for outbound notification. Implementations
// must not block; they are called synchronously on the attempt goroutine.
type Hooks interface {
	AttemptStarted(wallet common.Address, balance *big.Int)
	AttemptSucceeded(wallet common.Address, res Result)
	AttemptFailed(wallet common.Address, res Result)
}

// NopHooks discards all events.
type NopHooks struct{}

func (NopHooks) AttemptStarted(common.Address, *big.Int) {}
func (NopHooks) AttemptSucceeded(common.Address, Result) {}
func (NopHooks) AttemptFailed(common.Address, Result)    {}

// LogHooks reports lifecycle events through the logger. It is the default
// collaborator when no external notifier is wired.
type LogHooks struct {
	Log *slog.Logger
}

func (h LogHooks) AttemptStarted(wallet common.Address, balance *big.Int) {
	h.Log.Info("rescue attempt started",
		"wallet", wallet.Hex(),
		"balance", gasfee.FormatEther(balance),
	)
}

func (h LogHooks) AttemptSucceeded(wallet common.Address, res Result) {
	h.Log.Info("rescue attempt succeeded",
		"wallet", wallet.Hex(),
		"txHash", res.TxHash,
		"block", res.BlockNumber,
		"rescued", gasfee.FormatEther(res.AmountRescued),
	)
}

func (h LogHooks) AttemptFailed(wallet common.Address, res Result) {
	h.Log.Warn("rescue attempt failed",
		"wallet", wallet.Hex(),
		"reason", res.Err,
	)
}

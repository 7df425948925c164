// Package txbuild constructs and signs the sweep transaction.
package txbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/avln0x/sweepguard/internal/chainio"
	"github.com/avln0x/sweepguard/internal/gasfee"
	"github.com/avln0x/sweepguard/internal/resilience"
)

// ErrNetworkNotConnected means the chain identifier could not be determined.
// Signing never falls back to a guessed network.
var ErrNetworkNotConnected = errors.New("network not connected")

// ErrInvalidBundle is returned by Validate for structurally broken bundles.
var ErrInvalidBundle = errors.New("invalid bundle")

// Builder produces signed, ready-to-submit sweep bundles.
type Builder struct {
	chain  chainio.Provider
	signer *chainio.Signer
	retry  resilience.RetryPolicy
	log    *slog.Logger
}

func NewBuilder(chain chainio.Provider, signer *chainio.Signer, retry resilience.RetryPolicy, log *slog.Logger) *Builder {
	return &Builder{chain: chain, signer: signer, retry: retry, log: log}
}

// Build signs a native transfer of sweepAmount to dest priced by est. The
// nonce is fetched from the network at build time, never cached, to keep the
// window against a competing transaction from the same account as small as
// possible.
func (b *Builder) Build(ctx context.Context, dest common.Address, sweepAmount *big.Int, est *gasfee.Estimate) (*Bundle, error) {
	if sweepAmount == nil || sweepAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sweep amount must be positive", ErrInvalidBundle)
	}

	chainID, err := b.chainID(ctx)
	if err != nil {
		return nil, err
	}

	var nonce uint64
	err = b.retry.Run(ctx, func(ctx context.Context) error {
		var nerr error
		nonce, nerr = b.chain.PendingNonce(ctx, b.signer.Address())
		return nerr
	})
	if err != nil {
		return nil, fmt.Errorf("nonce(%s): %w", b.signer.Address().Hex(), err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		Gas:       est.GasLimit,
		GasTipCap: new(big.Int).Set(est.MaxPriorityFeePerGas),
		GasFeeCap: new(big.Int).Set(est.MaxFeePerGas),
		To:        &dest,
		Value:     new(big.Int).Set(sweepAmount),
	})
	signed, err := b.signer.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign sweep: %w", err)
	}

	b.log.Debug("sweep built",
		"to", dest.Hex(),
		"value", gasfee.FormatEther(sweepAmount),
		"nonce", nonce,
		"chainID", chainID.String(),
		"hash", signed.Hash().Hex(),
	)
	return &Bundle{
		ReplacementID: uuid.NewString(),
		Txs: []SignedTx{{
			Tx:     signed,
			Sender: b.signer.Address(),
		}},
	}, nil
}

func (b *Builder) chainID(ctx context.Context) (*big.Int, error) {
	var chainID *big.Int
	err := b.retry.Run(ctx, func(ctx context.Context) error {
		var cerr error
		chainID, cerr = b.chain.ChainID(ctx)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkNotConnected, err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no chain id reported", ErrNetworkNotConnected)
	}
	return chainID, nil
}

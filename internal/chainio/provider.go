// Package chainio abstracts the chain RPC surface the rescue pipeline reads
// from, so the core components can be exercised against fakes.
package chainio

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FeeData carries the fee inputs for EIP-1559 pricing.
type FeeData struct {
	BaseFee      *big.Int
	SuggestedTip *big.Int
}

// Provider is the read surface of a chain node.
type Provider interface {
	// Balance returns the current balance of addr in wei.
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)
	// FeeData returns the latest base fee and a suggested priority fee.
	FeeData(ctx context.Context) (*FeeData, error)
	// PendingNonce returns the next nonce for addr including pending txs.
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	// Nonce returns the confirmed nonce for addr at the latest block.
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	// ChainID returns the identifier of the connected network.
	ChainID(ctx context.Context) (*big.Int, error)
	// TransactionReceipt returns the receipt for a mined transaction.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	// SubscribeHeads opens a push subscription for new chain heads.
	SubscribeHeads(ctx context.Context) (HeadSubscription, error)
}

// HeadSubscription is a cancelable new-head stream. Unsubscribe tears the
// stream down; after it returns no further heads are delivered.
type HeadSubscription interface {
	Heads() <-chan *types.Header
	Err() <-chan error
	Unsubscribe()
}

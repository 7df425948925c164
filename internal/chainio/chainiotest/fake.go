// Package chainiotest provides a scriptable chainio.Provider for tests.
package chainiotest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/avln0x/sweepguard/internal/chainio"
)

// Fake implements chainio.Provider via per-method function fields. Unset
// methods fail instead of returning zero values, so tests declare exactly
// the surface they rely on.
type Fake struct {
	BalanceFn      func(ctx context.Context, addr common.Address) (*big.Int, error)
	BlockNumberFn  func(ctx context.Context) (uint64, error)
	FeeDataFn      func(ctx context.Context) (*chainio.FeeData, error)
	PendingNonceFn func(ctx context.Context, addr common.Address) (uint64, error)
	NonceFn        func(ctx context.Context, addr common.Address) (uint64, error)
	ChainIDFn      func(ctx context.Context) (*big.Int, error)
	ReceiptFn      func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFn    func(ctx context.Context) (chainio.HeadSubscription, error)
}

var errUnscripted = errors.New("chainiotest: method not scripted")

func (f *Fake) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if f.BalanceFn == nil {
		return nil, errUnscripted
	}
	return f.BalanceFn(ctx, addr)
}

func (f *Fake) BlockNumber(ctx context.Context) (uint64, error) {
	if f.BlockNumberFn == nil {
		return 0, errUnscripted
	}
	return f.BlockNumberFn(ctx)
}

func (f *Fake) FeeData(ctx context.Context) (*chainio.FeeData, error) {
	if f.FeeDataFn == nil {
		return nil, errUnscripted
	}
	return f.FeeDataFn(ctx)
}

func (f *Fake) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if f.PendingNonceFn == nil {
		return 0, errUnscripted
	}
	return f.PendingNonceFn(ctx, addr)
}

func (f *Fake) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	if f.NonceFn == nil {
		return 0, errUnscripted
	}
	return f.NonceFn(ctx, addr)
}

func (f *Fake) ChainID(ctx context.Context) (*big.Int, error) {
	if f.ChainIDFn == nil {
		return nil, errUnscripted
	}
	return f.ChainIDFn(ctx)
}

func (f *Fake) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.ReceiptFn == nil {
		return nil, errUnscripted
	}
	return f.ReceiptFn(ctx, txHash)
}

func (f *Fake) SubscribeHeads(ctx context.Context) (chainio.HeadSubscription, error) {
	if f.SubscribeFn == nil {
		return nil, errUnscripted
	}
	return f.SubscribeFn(ctx)
}

// HeadSub is a hand-driven head subscription.
type HeadSub struct {
	heads chan *types.Header
	errs  chan error

	mu     sync.Mutex
	closed bool
}

func NewHeadSub() *HeadSub {
	return &HeadSub{
		heads: make(chan *types.Header, 16),
		errs:  make(chan error, 1),
	}
}

func (s *HeadSub) Heads() <-chan *types.Header { return s.heads }
func (s *HeadSub) Err() <-chan error           { return s.errs }

func (s *HeadSub) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Push delivers a head with the given block number.
func (s *HeadSub) Push(number uint64) {
	s.heads <- &types.Header{Number: new(big.Int).SetUint64(number)}
}

// Fail injects a subscription error, as a dropped websocket would.
func (s *HeadSub) Fail(err error) {
	s.errs <- err
}

// Closed reports whether Unsubscribe was called.
func (s *HeadSub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

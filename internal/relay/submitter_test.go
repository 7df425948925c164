package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/avln0x/sweepguard/internal/resilience"
	"github.com/avln0x/sweepguard/internal/txbuild"
)

type fakeHandle struct{ target uint64 }

func (h *fakeHandle) TargetBlock() uint64 { return h.target }

// fakeRelay scripts a Resolution per target block and counts submits.
type fakeRelay struct {
	mu          sync.Mutex
	resolutions map[uint64]Resolution
	submitErr   map[uint64]error
	submits     map[uint64]int
	delay       map[uint64]time.Duration
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		resolutions: make(map[uint64]Resolution),
		submitErr:   make(map[uint64]error),
		submits:     make(map[uint64]int),
		delay:       make(map[uint64]time.Duration),
	}
}

func (f *fakeRelay) Submit(ctx context.Context, bundle *txbuild.Bundle, target uint64) (Handle, error) {
	f.mu.Lock()
	f.submits[target]++
	err := f.submitErr[target]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeHandle{target: target}, nil
}

func (f *fakeRelay) AwaitResolution(ctx context.Context, h Handle) (Resolution, error) {
	f.mu.Lock()
	res := f.resolutions[h.TargetBlock()]
	d := f.delay[h.TargetBlock()]
	f.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		}
	}
	return res, nil
}

func (f *fakeRelay) submitCount(target uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[target]
}

func testBundle() *txbuild.Bundle {
	return &txbuild.Bundle{
		ReplacementID: "test",
		Txs: []txbuild.SignedTx{{
			Tx: types.NewTx(&types.DynamicFeeTx{
				ChainID: big.NewInt(1),
				Nonce:   4,
				Gas:     21_000,
				Value:   big.NewInt(1),
				To:      &common.Address{0x01},
			}),
			Sender: common.HexToAddress("0x00000000000000000000000000000000cafebabe"),
		}},
	}
}

func testSubmitter(r Relay) *Submitter {
	return NewSubmitter(
		r,
		resilience.NewCircuitBreaker("relay", 100, time.Minute),
		SubmitterConfig{SubmissionTimeout: 2 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
	)
}

func TestFirstInclusionWinsAndLateOutcomesAreDiscarded(t *testing.T) {
	r := newFakeRelay()
	hash := common.HexToHash("0xabc1")
	for _, blk := range []uint64{101, 102, 104, 105} {
		r.resolutions[blk] = Resolution{Status: StatusPassed}
		r.delay[blk] = 200 * time.Millisecond
	}
	r.resolutions[103] = Resolution{Status: StatusIncluded, TxHash: hash, BlockNumber: 103}

	res, err := testSubmitter(r).SubmitToTargets(context.Background(), testBundle(), 100, 5)
	require.NoError(t, err)
	require.True(t, res.Included)
	require.Equal(t, hash, res.TxHash)
	require.Equal(t, uint64(103), res.BlockNumber)

	// the slow siblings had not settled when the race was decided
	require.Less(t, len(res.Outcomes), 5)
	for _, out := range res.Outcomes {
		if out.TargetBlock != 103 {
			require.NotEqual(t, StatusIncluded, out.Resolution.Status)
		}
	}
}

func TestAllTargetsPassWithoutInclusion(t *testing.T) {
	r := newFakeRelay()
	for blk := uint64(101); blk <= 105; blk++ {
		r.resolutions[blk] = Resolution{Status: StatusPassed}
	}

	res, err := testSubmitter(r).SubmitToTargets(context.Background(), testBundle(), 100, 5)
	require.NoError(t, err)
	require.False(t, res.Included)
	require.Contains(t, res.Reason, "no inclusion across blocks 101-105")
	require.Len(t, res.Outcomes, 5)
}

func TestTargetsCoverConsecutiveFutureBlocks(t *testing.T) {
	r := newFakeRelay()
	for blk := uint64(101); blk <= 103; blk++ {
		r.resolutions[blk] = Resolution{Status: StatusPassed}
	}
	_, err := testSubmitter(r).SubmitToTargets(context.Background(), testBundle(), 100, 3)
	require.NoError(t, err)
	for blk := uint64(101); blk <= 103; blk++ {
		require.Equal(t, 1, r.submitCount(blk), "block %d", blk)
	}
	require.Zero(t, r.submitCount(100), "current block must not be targeted")
	require.Zero(t, r.submitCount(104))
}

func TestTransportErrorRetriedOncePerTarget(t *testing.T) {
	r := newFakeRelay()
	r.submitErr[101] = errors.New("connection refused")
	r.resolutions[102] = Resolution{Status: StatusPassed}

	res, err := testSubmitter(r).SubmitToTargets(context.Background(), testBundle(), 100, 2)
	require.NoError(t, err)
	require.False(t, res.Included)
	require.Equal(t, 2, r.submitCount(101), "transport error gets exactly one retry")
	require.Equal(t, 1, r.submitCount(102))

	var sawTransport bool
	for _, out := range res.Outcomes {
		if out.TargetBlock == 101 {
			require.Equal(t, StatusTransportError, out.Resolution.Status)
			sawTransport = true
		}
	}
	require.True(t, sawTransport)
}

func TestNonceRejectionDoesNotAbortSiblings(t *testing.T) {
	r := newFakeRelay()
	hash := common.HexToHash("0xabc2")
	r.resolutions[101] = Resolution{Status: StatusNonceRejected}
	r.resolutions[102] = Resolution{Status: StatusIncluded, TxHash: hash, BlockNumber: 102}
	r.delay[102] = 50 * time.Millisecond

	res, err := testSubmitter(r).SubmitToTargets(context.Background(), testBundle(), 100, 2)
	require.NoError(t, err)
	require.True(t, res.Included)
	require.Equal(t, uint64(102), res.BlockNumber)
}

func TestMalformedBundleRejectedBeforeSubmission(t *testing.T) {
	r := newFakeRelay()
	_, err := testSubmitter(r).SubmitToTargets(context.Background(), &txbuild.Bundle{}, 100, 3)
	require.ErrorIs(t, err, txbuild.ErrInvalidBundle)
	require.Zero(t, r.submitCount(101))
}

func TestRepriceUsedForLaterTargets(t *testing.T) {
	r := newFakeRelay()
	r.resolutions[101] = Resolution{Status: StatusPassed}
	r.resolutions[102] = Resolution{Status: StatusPassed}

	s := testSubmitter(r)
	var mu sync.Mutex
	repriced := make(map[int]bool)
	s.SetReprice(func(ctx context.Context, idx int) (*txbuild.Bundle, error) {
		mu.Lock()
		repriced[idx] = true
		mu.Unlock()
		return testBundle(), nil
	})

	_, err := s.SubmitToTargets(context.Background(), testBundle(), 100, 2)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.False(t, repriced[0], "first target submits the base bundle")
	require.True(t, repriced[1])
}

type simRelay struct {
	*fakeRelay
	mu     sync.Mutex
	simErr map[uint64]error
	sims   map[uint64]int
}

func (s *simRelay) Simulate(ctx context.Context, bundle *txbuild.Bundle, target uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sims[target]++
	return s.simErr[target]
}

func TestFailedSimulationSkipsSend(t *testing.T) {
	r := &simRelay{
		fakeRelay: newFakeRelay(),
		simErr:    map[uint64]error{101: errors.New("execution reverted")},
		sims:      make(map[uint64]int),
	}
	r.resolutions[102] = Resolution{Status: StatusPassed}

	s := NewSubmitter(
		r,
		resilience.NewCircuitBreaker("relay", 100, time.Minute),
		SubmitterConfig{Simulate: true, SubmissionTimeout: 2 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil,
	)
	res, err := s.SubmitToTargets(context.Background(), testBundle(), 100, 2)
	require.NoError(t, err)
	require.False(t, res.Included)
	require.Zero(t, r.submitCount(101), "failed simulation must not reach eth_sendBundle")
	require.Equal(t, 1, r.submitCount(102))
}

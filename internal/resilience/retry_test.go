package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustionSurfacesLastFailure(t *testing.T) {
	calls := 0
	last := errors.New("transient 3")
	err := fastPolicy(3).Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return last
		}
		return fmt.Errorf("transient %d", calls)
	})
	require.Error(t, err)
	require.ErrorIs(t, err, last)
	require.Equal(t, 3, calls)
}

func TestRetryStopsImmediatelyOnNonRetryable(t *testing.T) {
	for _, sentinel := range []error{
		ErrInvalidCredential,
		ErrInvalidAddress,
		ErrInsufficientFunds,
		ErrNonceConflict,
		ErrGasLimitExceeded,
		ErrExecutionReverted,
	} {
		calls := 0
		err := fastPolicy(5).Run(context.Background(), func(ctx context.Context) error {
			calls++
			return fmt.Errorf("call: %w", sentinel)
		})
		require.ErrorIs(t, err, sentinel)
		require.Equal(t, 1, calls, "non-retryable %v must not consume attempts", sentinel)
	}
}

func TestRetryStopsOnRawRPCErrorText(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Run(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("err: insufficient funds for gas * price + value")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryDeadlineIsRetryable(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("%w after 1s", ErrDeadline)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fastPolicy(10).Run(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    40 * time.Millisecond,
		Multiplier:  2.0,
	}
	require.Equal(t, 10*time.Millisecond, p.delay(1))
	require.Equal(t, 20*time.Millisecond, p.delay(2))
	require.Equal(t, 40*time.Millisecond, p.delay(3))
	require.Equal(t, 40*time.Millisecond, p.delay(5), "delay must cap at MaxDelay")
}

func TestBackoffJitterStaysInHalfToFullRange(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
	for i := 0; i < 200; i++ {
		d := p.delay(1)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestWithTimeoutMapsDeadlineOverrun(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrDeadline)
	require.True(t, Retryable(err))
}

func TestWithTimeoutPassesThroughFastResult(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout races op against an explicit deadline. A deadline overrun is
// reported as ErrDeadline, which RetryPolicy treats as retryable.
func WithTimeout(ctx context.Context, d time.Duration, op func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := op(tctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s", ErrDeadline, d)
	}
	return err
}

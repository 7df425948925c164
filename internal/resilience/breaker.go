package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the current mode of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is short-circuited without touching
// the underlying dependency.
type ErrBreakerOpen struct {
	Name string
}

func (e *ErrBreakerOpen) Error() string {
	return fmt.Sprintf("circuit breaker %q open", e.Name)
}

// CircuitBreaker stops calling a failing dependency for a cooldown period
// after a run of consecutive failures. Each instance guards exactly one
// logical dependency and is owned by the component calling it; there is no
// shared registry.
type CircuitBreaker struct {
	name      string
	threshold int
	recovery  time.Duration

	onTransition func(name string, from, to BreakerState)

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time

	now func() time.Time // test hook
}

// NewCircuitBreaker builds a breaker in Closed mode. threshold is the number
// of consecutive failures that opens it; recovery is how long it stays open
// before allowing a trial call.
func NewCircuitBreaker(name string, threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		recovery:  recovery,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// OnTransition registers a callback fired on every state change, outside the
// breaker lock. Used for metrics and logging.
func (b *CircuitBreaker) OnTransition(fn func(name string, from, to BreakerState)) {
	b.onTransition = fn
}

// Name returns the logical dependency this breaker guards.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the current mode, accounting for recovery-timeout expiry.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.recovery {
		return BreakerHalfOpen
	}
	return b.state
}

// Do runs op through the breaker. In Open mode within the recovery window the
// call short-circuits with ErrBreakerOpen. After the window one trial call is
// let through; its outcome decides between Closed and re-opened.
func (b *CircuitBreaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err == nil)
	return err
}

func (b *CircuitBreaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.recovery {
			return &ErrBreakerOpen{Name: b.name}
		}
		b.transition(BreakerHalfOpen)
	case BreakerHalfOpen:
		// a trial call is already in flight
		return &ErrBreakerOpen{Name: b.name}
	}
	return nil
}

// record is the single mutation point for call outcomes, so concurrent
// callers sharing a breaker cannot lose updates.
func (b *CircuitBreaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}
	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.transition(BreakerOpen)
	}
}

// transition must be called with b.mu held.
func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onTransition != nil && from != to {
		go b.onTransition(b.name, from, to)
	}
}

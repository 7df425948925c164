// Package watch observes a single account balance and fires a callback on
// every strict increase.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sethvargo/go-retry"

	"github.com/avln0x/sweepguard/internal/chainio"
	"github.com/avln0x/sweepguard/internal/gasfee"
	"github.com/avln0x/sweepguard/internal/metrics"
	"github.com/avln0x/sweepguard/internal/resilience"
)

// Callback receives the newly observed balance. Invocations are serial and
// never overlap; the watcher's held value is updated before the call.
type Callback func(newBalance *big.Int)

// ErrAlreadyStarted is returned by a second Start on the same watcher.
var ErrAlreadyStarted = errors.New("watcher already started")

// Config tunes subscription recovery and polling.
type Config struct {
	// PollInterval drives poll mode and the push fallback.
	PollInterval time.Duration
	// ReconnectAttempts bounds reconnection tries after a dropped
	// subscription before falling back to poll mode for good.
	ReconnectAttempts int
	// ReconnectBase is the first reconnect backoff delay.
	ReconnectBase time.Duration
	// ReadTimeout bounds one balance read.
	ReadTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.ReconnectAttempts <= 0 {
		out.ReconnectAttempts = 5
	}
	if out.ReconnectBase <= 0 {
		out.ReconnectBase = time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 10 * time.Second
	}
	return out
}

// Watcher holds the authoritative last-observed balance for one wallet.
// Exactly one logical watcher loop runs per instance.
type Watcher struct {
	chain   chainio.Provider
	addr    common.Address
	cfg     Config
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
	met     *metrics.Metrics

	mu      sync.Mutex
	last    *big.Int
	started bool
	cancel  context.CancelFunc

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewWatcher(chain chainio.Provider, addr common.Address, cfg Config, readRetry resilience.RetryPolicy, breaker *resilience.CircuitBreaker, log *slog.Logger, met *metrics.Metrics) *Watcher {
	return &Watcher{
		chain:   chain,
		addr:    addr,
		cfg:     cfg.withDefaults(),
		retry:   readRetry,
		breaker: breaker,
		log:     log.With("wallet", addr.Hex()),
		met:     met,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// StartPush subscribes to new chain heads and re-reads the balance on each
// notification. A dropped subscription is re-established with exponential
// backoff; once the bounded attempts are exhausted the watcher degrades to
// the fixed-interval poll cycle instead of dying.
func (w *Watcher) StartPush(ctx context.Context, cb Callback) error {
	ctx, err := w.markStarted(ctx)
	if err != nil {
		return err
	}
	go w.runPush(ctx, cb)
	return nil
}

// StartPoll runs the same read-compare-callback cycle on a timer.
func (w *Watcher) StartPoll(ctx context.Context, cb Callback, interval time.Duration) error {
	ctx, err := w.markStarted(ctx)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = w.cfg.PollInterval
	}
	go func() {
		defer close(w.done)
		w.runPoll(ctx, cb, interval)
	}()
	return nil
}

// Stop tears down the watcher loop. Idempotent; when it returns, no further
// callback will be invoked.
func (w *Watcher) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if started {
		<-w.done
	}
}

// CurrentBalance is a best-effort synchronous read. It does not touch the
// held comparison state.
func (w *Watcher) CurrentBalance(ctx context.Context) (*big.Int, error) {
	return w.readBalance(ctx)
}

// LastObserved returns the held comparison value, nil before the first read.
func (w *Watcher) LastObserved() *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil
	}
	return new(big.Int).Set(w.last)
}

// markStarted claims the single watcher loop and derives a context that
// Stop can cancel, so teardown does not wait out a backoff sleep.
func (w *Watcher) markStarted(ctx context.Context) (context.Context, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil, ErrAlreadyStarted
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (w *Watcher) runPush(ctx context.Context, cb Callback) {
	defer close(w.done)

	// baseline before the first notification arrives
	w.observe(ctx, cb)

	for {
		sub, err := w.subscribeWithBackoff(ctx)
		if err != nil {
			if ctx.Err() != nil || w.stopping() {
				return
			}
			w.log.Warn("subscription attempts exhausted, falling back to polling",
				"error", err, "interval", w.cfg.PollInterval)
			w.runPoll(ctx, cb, w.cfg.PollInterval)
			return
		}
		if w.met != nil {
			w.met.SetPollMode(false)
		}

		reconnect := w.consumeHeads(ctx, sub, cb)
		sub.Unsubscribe()
		if !reconnect {
			return
		}
	}
}

// consumeHeads drains the subscription until stop, cancel, or a transport
// failure. Returns true when the caller should reconnect.
func (w *Watcher) consumeHeads(ctx context.Context, sub chainio.HeadSubscription, cb Callback) bool {
	for {
		select {
		case <-w.stop:
			return false
		case <-ctx.Done():
			return false
		case _, ok := <-sub.Heads():
			if !ok {
				return true
			}
			w.observe(ctx, cb)
		case err := <-sub.Err():
			w.log.Warn("head subscription dropped", "error", err)
			return true
		}
	}
}

func (w *Watcher) subscribeWithBackoff(ctx context.Context) (chainio.HeadSubscription, error) {
	var sub chainio.HeadSubscription
	backoff := retry.WithMaxRetries(
		uint64(w.cfg.ReconnectAttempts-1),
		retry.NewExponential(w.cfg.ReconnectBase),
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		select {
		case <-w.stop:
			return errors.New("watcher stopped")
		default:
		}
		s, serr := w.chain.SubscribeHeads(ctx)
		if serr != nil {
			w.log.Debug("subscribe failed, backing off", "error", serr)
			return retry.RetryableError(serr)
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe after %d attempts: %w", w.cfg.ReconnectAttempts, err)
	}
	return sub, nil
}

func (w *Watcher) runPoll(ctx context.Context, cb Callback, interval time.Duration) {
	if w.met != nil {
		w.met.SetPollMode(true)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.observe(ctx, cb)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.observe(ctx, cb)
		}
	}
}

// observe runs one read-compare-callback cycle. The first successful read
// only establishes the baseline; after that the callback fires exactly when
// the reading strictly exceeds the held value, which is updated first.
func (w *Watcher) observe(ctx context.Context, cb Callback) {
	bal, err := w.readBalance(ctx)
	if err != nil {
		w.log.Warn("balance read failed", "error", err)
		return
	}

	w.mu.Lock()
	if w.last == nil {
		w.last = new(big.Int).Set(bal)
		w.mu.Unlock()
		w.log.Info("balance baseline", "balance", gasfee.FormatEther(bal))
		return
	}
	increased := bal.Cmp(w.last) > 0
	if increased {
		w.last.Set(bal)
	}
	w.mu.Unlock()

	if !increased {
		return
	}
	w.log.Info("balance increased", "balance", gasfee.FormatEther(bal))
	if w.met != nil {
		w.met.BalanceTrigger()
	}
	cb(new(big.Int).Set(bal))
}

func (w *Watcher) readBalance(ctx context.Context) (*big.Int, error) {
	var bal *big.Int
	err := w.retry.Run(ctx, func(ctx context.Context) error {
		return w.breaker.Do(ctx, func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, w.cfg.ReadTimeout, func(ctx context.Context) error {
				var berr error
				bal, berr = w.chain.Balance(ctx, w.addr)
				return berr
			})
		})
	})
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return nil, errors.New("nil balance")
	}
	return bal, nil
}

func (w *Watcher) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

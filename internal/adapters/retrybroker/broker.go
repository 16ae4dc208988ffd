package retrybroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"tradegovernor/internal/ports"
)

// Broker decorates any ports.Broker with bounded retries, per-call timeouts
// and fail-safe substitution. Transient broker failures are retried with
// exponential backoff; when attempts are exhausted, calls whose contract
// allows a conservative fallback substitute one instead of propagating the
// error. The clock is the canonical case: a failed clock fetch returns the
// cached clock forced to "market closed", never a guessed "market open".
type Broker struct {
	inner   ports.Broker
	logger  ports.Logger
	timeout time.Duration
	retries int
	baseDly time.Duration

	mu        sync.Mutex
	lastClock *ports.MarketClock
}

// Config holds configuration for the retry decorator.
type Config struct {
	Timeout   time.Duration // Per-call timeout (e.g., 10s)
	Attempts  int           // Total attempts per call (e.g., 3)
	BaseDelay time.Duration // First backoff delay
	Logger    ports.Logger
}

// New wraps a broker with retry/backoff discipline.
func New(inner ports.Broker, cfg Config) (*Broker, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner broker is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for retry broker")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &Broker{
		inner:   inner,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
		retries: cfg.Attempts,
		baseDly: cfg.BaseDelay,
	}, nil
}

// do runs op up to the configured number of attempts with exponential
// backoff and jitter, bounding each attempt with the call timeout.
func (b *Broker) do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	bo := &backoff.Backoff{
		Min:    b.baseDly,
		Max:    b.timeout,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= b.retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == b.retries {
			break
		}
		delay := bo.Duration()
		b.logger.Warn(ctx, "Broker call failed, retrying", map[string]interface{}{
			"call":    name,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ports.ErrContextCanceled)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, b.retries, lastErr)
}

// GetAccountSnapshot retries the snapshot fetch; no safe substitute exists
// for account truth, so exhaustion propagates the wrapped error.
func (b *Broker) GetAccountSnapshot(ctx context.Context) (*ports.AccountSnapshot, error) {
	var snap *ports.AccountSnapshot
	err := b.do(ctx, "GetAccountSnapshot", func(ctx context.Context) error {
		var err error
		snap, err = b.inner.GetAccountSnapshot(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetOpenPositions retries the position fetch.
func (b *Broker) GetOpenPositions(ctx context.Context) ([]ports.BrokerPosition, error) {
	var positions []ports.BrokerPosition
	err := b.do(ctx, "GetOpenPositions", func(ctx context.Context) error {
		var err error
		positions, err = b.inner.GetOpenPositions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// GetOpenOrders retries the order fetch.
func (b *Broker) GetOpenOrders(ctx context.Context) ([]ports.BrokerOrder, error) {
	var orders []ports.BrokerOrder
	err := b.do(ctx, "GetOpenOrders", func(ctx context.Context) error {
		var err error
		orders, err = b.inner.GetOpenOrders(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ClosePosition is NOT retried blindly: a close may have been accepted even
// when the response was lost, and resubmitting could double-sell. One
// attempt, bounded by the call timeout.
func (b *Broker) ClosePosition(ctx context.Context, symbol string) (*ports.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	result, err := b.inner.ClosePosition(callCtx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ClosePosition %s: %w", symbol, err)
	}
	return result, nil
}

// GetClock retries the clock fetch. On exhaustion it substitutes the last
// known clock forced closed: acting on "closed" when the market is open is
// safe, the reverse is not.
func (b *Broker) GetClock(ctx context.Context) (*ports.MarketClock, error) {
	var clock *ports.MarketClock
	err := b.do(ctx, "GetClock", func(ctx context.Context) error {
		var err error
		clock, err = b.inner.GetClock(ctx)
		return err
	})
	if err != nil {
		b.mu.Lock()
		cached := b.lastClock
		b.mu.Unlock()

		fallback := &ports.MarketClock{IsOpen: false, Timestamp: time.Now().UTC()}
		if cached != nil {
			fallback.NextOpen = cached.NextOpen
			fallback.NextClose = cached.NextClose
		}
		b.logger.Warn(ctx, "Clock fetch failed, substituting market-closed fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return fallback, nil
	}

	b.mu.Lock()
	b.lastClock = clock
	b.mu.Unlock()
	return clock, nil
}

var _ ports.Broker = (*Broker)(nil)

// Package governor paces outbound service calls and protects them with a
// circuit breaker.
//
// The central type is [Governor]. [Governor.AwaitSlot] spaces successive
// calls at least one pacing interval apart, [Governor.Do] adds a single
// retry when the service answers with a rate-limit rejection, and
// [Governor.Execute] wraps the whole thing in a [Breaker] so a failing
// service is bypassed instead of hammered.
//
// Rate-limit rejections are recognised through the error's RetryHint method
// (the tts package's RateLimitError implements it); they trigger the retry
// path but never count toward the breaker.
//
// All types are safe for concurrent use.
package governor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Config holds tuning knobs for a [Governor].
type Config struct {
	// Name is a human-readable label used in log messages and passed to the
	// embedded [Breaker].
	Name string

	// RatePerSecond is the maximum sustained outbound call rate. Default: 50.
	RatePerSecond float64

	// RetryDefault is the wait before the single retry when a rate-limit
	// rejection carries no server hint. Default: 1s.
	RetryDefault time.Duration

	// Breaker tunes the embedded circuit breaker. The Name field is
	// inherited from Config.Name when empty.
	Breaker BreakerConfig
}

// Governor enforces the global outbound rate cap. It is safe for concurrent
// use; concurrent callers are granted slots in FIFO-ish order spaced one
// interval apart.
type Governor struct {
	interval     time.Duration
	retryDefault time.Duration
	breaker      *Breaker

	mu   sync.Mutex
	next time.Time // earliest grant time for the next slot
}

// New creates a [Governor]. Zero-value config fields are replaced with the
// defaults documented on [Config].
func New(cfg Config) *Governor {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 50
	}
	if cfg.RetryDefault <= 0 {
		cfg.RetryDefault = time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = cfg.Name
	}
	return &Governor{
		interval:     time.Duration(float64(time.Second) / cfg.RatePerSecond),
		retryDefault: cfg.RetryDefault,
		breaker:      NewBreaker(cfg.Breaker),
	}
}

// AwaitSlot blocks until the caller may issue the next outbound call, so
// that grants are at least one pacing interval apart. It returns early with
// the context error when ctx is cancelled; the reserved slot is not returned
// to the pool (the spacing guarantee is what matters, not throughput).
func (g *Governor) AwaitSlot(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	at := g.next
	if at.Before(now) {
		at = now
	}
	g.next = at.Add(g.interval)
	g.mu.Unlock()

	return sleepUntil(ctx, at)
}

// Do acquires a slot, invokes fn, and on a rate-limit rejection sleeps for
// the server-indicated interval (or the configured default when absent) and
// retries exactly once. Any other outcome is returned as-is.
func (g *Governor) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.AwaitSlot(ctx); err != nil {
		return err
	}
	err := fn(ctx)

	wait, ok := retryHint(err)
	if !ok {
		return err
	}
	if wait <= 0 {
		wait = g.retryDefault
	}
	slog.Debug("rate limited, retrying once", "retry_after", wait)
	if err := sleep(ctx, wait); err != nil {
		return err
	}
	if err := g.AwaitSlot(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Execute runs fn through the circuit breaker and, when admitted, through
// the pacing and retry logic of [Governor.Do]. This is the entry point every
// governed service call must use.
func (g *Governor) Execute(ctx context.Context, fn func(context.Context) error) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Do(ctx, fn)
	})
}

// Breaker exposes the embedded circuit breaker for status reporting.
func (g *Governor) Breaker() *Breaker {
	return g.breaker
}

// retryHint reports whether err is a rate-limit rejection and, if so, the
// server-suggested wait (zero when the server gave none).
func retryHint(err error) (time.Duration, bool) {
	var hinted interface{ RetryHint() time.Duration }
	if errors.As(err, &hinted) {
		return hinted.RetryHint(), true
	}
	return 0, false
}

// isNeutral reports whether err carries no signal about service health:
// rate-limit rejections and caller-side cancellation.
func isNeutral(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	_, rateLimited := retryHint(err)
	return rateLimited
}

// sleepUntil blocks until the wall clock reaches at or ctx is cancelled.
func sleepUntil(ctx context.Context, at time.Time) error {
	return sleep(ctx, time.Until(at))
}

// sleep blocks for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

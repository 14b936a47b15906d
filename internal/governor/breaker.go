package governor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] when the breaker is in the
// open state and the recovery timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("governor: circuit open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call and counts consecutive failures.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the recovery
	// timeout has elapsed since the last failure.
	StateOpen

	// StateHalfOpen admits a single probe. Success closes the breaker;
	// failure re-opens it with a fresh timer.
	StateHalfOpen
)

// String names the state for logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels this breaker in log output.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before admitting a
	// probe call. Default: 60s.
	RecoveryTimeout time.Duration
}

// Breaker implements a three-state circuit breaker with a single-probe
// half-open phase. Rate-limit rejections and caller cancellation are neutral:
// they neither trip nor heal the breaker. It is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewBreaker creates a [Breaker] with the supplied configuration. Zero-value
// config fields are replaced with the defaults documented on [BreakerConfig].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		recovery:  cfg.RecoveryTimeout,
		state:     StateClosed,
	}
}

// Execute applies the breaker's admission rules to fn: the open state
// rejects with [ErrCircuitOpen] before fn runs, the half-open state lets a
// single probe through, and calls racing an in-flight probe fail fast.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.recovery {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = false
		slog.Info("circuit breaker transitioning to half-open", "name", b.name)
		fallthrough

	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	probe := b.state == StateHalfOpen
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case isNeutral(err):
		// Rate limiting and caller cancellation say nothing about the
		// service's health. Release the probe slot and change nothing else.
		if probe {
			b.probing = false
		}
	case err != nil:
		b.recordFailure(probe)
	default:
		b.recordSuccess(probe)
	}
	return err
}

// recordFailure handles failure accounting. Must be called with b.mu held.
func (b *Breaker) recordFailure(probe bool) {
	b.lastFailure = time.Now()

	if probe {
		// A failed probe immediately re-opens with a fresh timer.
		b.state = StateOpen
		b.probing = false
		b.failures = b.threshold
		slog.Warn("circuit breaker re-opened from half-open", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = StateOpen
		slog.Warn("circuit breaker opened", "name", b.name, "failures", b.failures)
	}
}

// recordSuccess handles success accounting. Must be called with b.mu held.
func (b *Breaker) recordSuccess(probe bool) {
	if probe {
		b.state = StateClosed
		b.probing = false
		slog.Info("circuit breaker closed after successful probe", "name", b.name)
	}
	b.failures = 0
}

// State returns the current [State] of the breaker. If the breaker is open
// and the recovery timeout has elapsed, the returned state is [StateHalfOpen]
// (the actual transition happens on the next [Execute] call).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.lastFailure) >= b.recovery {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the consecutive non-neutral failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probing = false
	slog.Info("circuit breaker manually reset", "name", b.name)
}

// Package health runs the periodic self-checks that decide whether the
// process keeps living. A fast sweep probes the TTS engine, the voice
// session, and the critical permissions on the target channel; a slow sweep
// re-checks guild permissions. Failures accumulate in a [Ledger]; a breach
// triggers one idempotent termination notice to the orchestrator.
//
// Probes are injected as named [Checker] funcs so tests substitute fakes.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default sweep intervals.
const (
	defaultInterval           = 60 * time.Second
	defaultPermissionInterval = 300 * time.Second

	// checkTimeout is the maximum time a single check may take before its
	// context is cancelled.
	checkTimeout = 5 * time.Second
)

// Checker is a named health check. The Check function returns nil when the
// dependency is healthy and an error describing the failure otherwise. It
// must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Status is the published outcome of the most recent sweep.
type Status struct {
	Healthy         bool
	Issues          []string
	Recommendations []string
	LastCheck       time.Time

	// ChecksRun and ChecksFailed are cumulative across sweeps.
	ChecksRun    uint64
	ChecksFailed uint64

	Ledger LedgerSnapshot
}

// Config configures a [Monitor].
type Config struct {
	// Interval between health sweeps. Defaults to 60s.
	Interval time.Duration

	// PermissionInterval between guild permission sweeps. Defaults to 300s.
	PermissionInterval time.Duration

	// TTS probes the synthesis engine. Its failures drive the
	// consecutive-unavailability clock.
	TTS Checker

	// Voice diagnoses the voice session.
	Voice Checker

	// ChannelPermissions probes the critical permissions (view, connect,
	// speak) on the target voice channel.
	ChannelPermissions Checker

	// GuildPermissions re-checks guild-wide permissions on the slow sweep.
	// A failure terminates the process.
	GuildPermissions Checker

	// Ledger records failures and decides breaches. Required.
	Ledger *Ledger
}

// Monitor owns the health loops and the termination policy.
//
// All methods are safe for concurrent use.
type Monitor struct {
	interval     time.Duration
	permInterval time.Duration

	tts          Checker
	voice        Checker
	channelPerms Checker
	guildPerms   Checker

	ledger *Ledger

	mu           sync.Mutex
	status       Status
	checksRun    uint64
	checksFailed uint64

	termOnce   sync.Once
	term       chan string
	terminated atomic.Bool
}

// NewMonitor creates a [Monitor] from cfg.
func NewMonitor(cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	permInterval := cfg.PermissionInterval
	if permInterval <= 0 {
		permInterval = defaultPermissionInterval
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewLedger()
	}
	return &Monitor{
		interval:     interval,
		permInterval: permInterval,
		tts:          cfg.TTS,
		voice:        cfg.Voice,
		channelPerms: cfg.ChannelPermissions,
		guildPerms:   cfg.GuildPermissions,
		ledger:       ledger,
		term:         make(chan string, 1),
	}
}

// Ledger returns the failure ledger so event handlers can report incidents
// directly.
func (m *Monitor) Ledger() *Ledger { return m.ledger }

// Run executes the health sweep immediately and then every interval until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("health monitor started", "interval", m.interval)
	defer slog.Info("health monitor stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// RunPermissionSweep executes the guild permission check every
// PermissionInterval until ctx is cancelled.
func (m *Monitor) RunPermissionSweep(ctx context.Context) error {
	if m.guildPerms.Check == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(m.permInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweepPermissions(ctx)
		}
	}
}

// Terminated returns the channel on which the single termination reason is
// delivered.
func (m *Monitor) Terminated() <-chan string { return m.term }

// ShuttingDown reports whether termination has been triggered.
func (m *Monitor) ShuttingDown() bool { return m.terminated.Load() }

// Status returns a copy of the most recent sweep outcome.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status
	s.Issues = append([]string(nil), m.status.Issues...)
	s.Recommendations = append([]string(nil), m.status.Recommendations...)
	return s
}

// sweep runs one round of checks, publishes the status, and evaluates the
// termination rules.
func (m *Monitor) sweep(ctx context.Context) {
	var issues, recs []string
	var run, failed uint64

	// The TTS probe drives the consecutive-unavailability clock.
	if m.tts.Check != nil {
		run++
		if err := m.runCheck(ctx, m.tts); err != nil {
			failed++
			m.ledger.RecordAPIFailure(err.Error())
			issues = append(issues, m.tts.Name+": "+err.Error())
			recs = append(recs, "check that the TTS engine is running and its URL is reachable")
		} else {
			m.ledger.RecordAPISuccess()
		}
	}

	if m.voice.Check != nil {
		run++
		if err := m.runCheck(ctx, m.voice); err != nil {
			failed++
			issues = append(issues, m.voice.Name+": "+err.Error())
			recs = append(recs, "verify the voice connection and the target channel")
		}
	}

	if m.channelPerms.Check != nil {
		run++
		if err := m.runCheck(ctx, m.channelPerms); err != nil {
			failed++
			m.ledger.RecordPermissionMissing(err.Error())
			issues = append(issues, m.channelPerms.Name+": "+err.Error())
			recs = append(recs, "grant the bot view/connect/speak on the target channel")
		} else {
			m.ledger.RecordPermissionOK()
		}
	}

	m.mu.Lock()
	m.checksRun += run
	m.checksFailed += failed
	m.status = Status{
		Healthy:         len(issues) == 0 && !m.terminated.Load(),
		Issues:          issues,
		Recommendations: recs,
		LastCheck:       time.Now(),
		ChecksRun:       m.checksRun,
		ChecksFailed:    m.checksFailed,
		Ledger:          m.ledger.Snapshot(),
	}
	m.mu.Unlock()

	if len(issues) > 0 {
		slog.Warn("health sweep found issues", "issues", issues)
	} else {
		slog.Debug("health sweep clean")
	}

	if reason, breached := m.ledger.Breach(); breached {
		m.terminate(reason)
	}
}

// sweepPermissions runs the guild-wide permission check once.
func (m *Monitor) sweepPermissions(ctx context.Context) {
	err := m.runCheck(ctx, m.guildPerms)
	if err == nil {
		slog.Debug("guild permission sweep clean")
		return
	}
	m.ledger.RecordPermissionMissing(err.Error())
	m.terminate("missing critical permission: " + err.Error())
}

// runCheck executes one checker under the per-check timeout.
func (m *Monitor) runCheck(ctx context.Context, c Checker) error {
	cctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(cctx)
}

// terminate records the first termination reason and notifies the
// orchestrator exactly once.
func (m *Monitor) terminate(reason string) {
	m.termOnce.Do(func() {
		m.terminated.Store(true)
		slog.Error("health termination triggered", "reason", reason)
		m.term <- reason
	})
}

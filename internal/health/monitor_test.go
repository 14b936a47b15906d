package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func okCheck(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failCheck(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

func TestMonitorCleanSweep(t *testing.T) {
	m := NewMonitor(Config{
		TTS:                okCheck("tts_engine"),
		Voice:              okCheck("voice_session"),
		ChannelPermissions: okCheck("channel_permissions"),
	})

	m.sweep(context.Background())

	s := m.Status()
	if !s.Healthy {
		t.Errorf("Healthy = false after a clean sweep: %v", s.Issues)
	}
	if s.ChecksRun != 3 || s.ChecksFailed != 0 {
		t.Errorf("ChecksRun/ChecksFailed = %d/%d, want 3/0", s.ChecksRun, s.ChecksFailed)
	}
	if s.LastCheck.IsZero() {
		t.Error("LastCheck not set")
	}
	if m.ShuttingDown() {
		t.Error("clean sweep triggered termination")
	}
}

func TestMonitorSweepCollectsIssues(t *testing.T) {
	m := NewMonitor(Config{
		TTS:   okCheck("tts_engine"),
		Voice: failCheck("voice_session", "transport not ready"),
	})

	m.sweep(context.Background())

	s := m.Status()
	if s.Healthy {
		t.Fatal("Healthy = true with a failing voice check")
	}
	if len(s.Issues) != 1 || !strings.Contains(s.Issues[0], "voice_session: transport not ready") {
		t.Errorf("Issues = %v", s.Issues)
	}
	if len(s.Recommendations) == 0 {
		t.Error("no recommendation for the failing check")
	}
	if s.ChecksFailed != 1 {
		t.Errorf("ChecksFailed = %d, want 1", s.ChecksFailed)
	}
}

func TestMonitorStatusAccumulatesAcrossSweeps(t *testing.T) {
	m := NewMonitor(Config{TTS: okCheck("tts_engine")})

	m.sweep(context.Background())
	m.sweep(context.Background())

	if s := m.Status(); s.ChecksRun != 2 {
		t.Errorf("ChecksRun = %d, want 2", s.ChecksRun)
	}
}

func TestMonitorTTSOutageTerminates(t *testing.T) {
	ledger, clock := testLedger()
	m := NewMonitor(Config{
		TTS:    failCheck("tts_engine", "engine voicevox unavailable: connection refused"),
		Ledger: ledger,
	})

	m.sweep(context.Background())
	if m.ShuttingDown() {
		t.Fatal("terminated on the first failed probe")
	}

	clock.advance(apiDownLimit)
	m.sweep(context.Background())

	if !m.ShuttingDown() {
		t.Fatal("no termination after the outage limit elapsed")
	}
	select {
	case reason := <-m.Terminated():
		if !strings.Contains(reason, "tts api unavailable") {
			t.Errorf("reason = %q", reason)
		}
	default:
		t.Fatal("termination reason not delivered")
	}
}

func TestMonitorTTSRecoveryResetsClock(t *testing.T) {
	ledger, clock := testLedger()
	healthy := false
	m := NewMonitor(Config{
		TTS: Checker{Name: "tts_engine", Check: func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("down")
		}},
		Ledger: ledger,
	})

	m.sweep(context.Background())
	healthy = true
	m.sweep(context.Background()) // success resets the outage clock

	healthy = false
	clock.advance(apiDownLimit)
	m.sweep(context.Background()) // fresh outage starts here

	if m.ShuttingDown() {
		t.Fatal("terminated although the outage clock was reset in between")
	}
}

func TestMonitorMissingChannelPermissionTerminates(t *testing.T) {
	m := NewMonitor(Config{
		ChannelPermissions: failCheck("channel_permissions", "missing on channel 123: speak"),
	})

	m.sweep(context.Background())

	if !m.ShuttingDown() {
		t.Fatal("no termination for a missing critical permission")
	}
	reason := <-m.Terminated()
	if !strings.Contains(reason, "missing critical permission") {
		t.Errorf("reason = %q", reason)
	}
}

func TestMonitorGuildSweepTerminates(t *testing.T) {
	m := NewMonitor(Config{
		GuildPermissions: failCheck("guild_permissions", "missing in guild g1: connect"),
	})

	m.sweepPermissions(context.Background())

	if !m.ShuttingDown() {
		t.Fatal("guild permission failure did not terminate")
	}
	reason := <-m.Terminated()
	if !strings.Contains(reason, "missing in guild g1: connect") {
		t.Errorf("reason = %q", reason)
	}
}

func TestMonitorTerminatesOnce(t *testing.T) {
	m := NewMonitor(Config{})

	m.terminate("first")
	m.terminate("second")

	if got := <-m.Terminated(); got != "first" {
		t.Errorf("reason = %q, want first", got)
	}
	select {
	case extra := <-m.Terminated():
		t.Errorf("second termination delivered: %q", extra)
	default:
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	m := NewMonitor(Config{Interval: time.Millisecond, TTS: okCheck("tts_engine")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestMonitorPermissionSweepIdlesWithoutChecker(t *testing.T) {
	m := NewMonitor(Config{PermissionInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := m.RunPermissionSweep(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunPermissionSweep = %v, want context.DeadlineExceeded", err)
	}
	if m.ShuttingDown() {
		t.Error("idle permission sweep triggered termination")
	}
}

package health

import (
	"strings"
	"testing"
	"time"
)

// fakeClock drives a Ledger deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testLedger() (*Ledger, *fakeClock) {
	clock := newFakeClock()
	l := NewLedger()
	l.now = clock.now
	return l, clock
}

func TestLedgerDisconnectStorm10m(t *testing.T) {
	l, clock := testLedger()

	for i := 0; i < maxDisconnects10m-1; i++ {
		l.RecordVoiceDisconnect()
		clock.advance(time.Minute)
	}
	if reason, breached := l.Breach(); breached {
		t.Fatalf("breach after %d disconnects: %s", maxDisconnects10m-1, reason)
	}

	l.RecordVoiceDisconnect()
	reason, breached := l.Breach()
	if !breached {
		t.Fatalf("no breach after the %dth disconnect within 10m", maxDisconnects10m)
	}
	if !strings.Contains(reason, "10m") {
		t.Errorf("reason = %q, want the 10m window named", reason)
	}
}

func TestLedgerDisconnectsAgeOut(t *testing.T) {
	l, clock := testLedger()

	for i := 0; i < maxDisconnects10m-1; i++ {
		l.RecordVoiceDisconnect()
	}
	clock.advance(11 * time.Minute)
	l.RecordVoiceDisconnect()

	if reason, breached := l.Breach(); breached {
		t.Fatalf("breach from aged-out disconnects: %s", reason)
	}
	if snap := l.Snapshot(); snap.Disconnects10m != 1 {
		t.Errorf("Disconnects10m = %d, want 1", snap.Disconnects10m)
	}
}

func TestLedgerSlowStorm30m(t *testing.T) {
	l, clock := testLedger()

	// One disconnect every 3 minutes stays under the 10m allowance but
	// accumulates to the 30m one.
	for i := 0; i < maxDisconnects30m; i++ {
		l.RecordVoiceDisconnect()
		if reason, breached := l.Breach(); breached && i < maxDisconnects30m-1 {
			t.Fatalf("early breach at disconnect %d: %s", i+1, reason)
		}
		clock.advance(3 * time.Minute)
	}

	reason, breached := l.Breach()
	if !breached {
		t.Fatal("no breach after reaching the 30m allowance")
	}
	if !strings.Contains(reason, "30m") {
		t.Errorf("reason = %q, want the 30m window named", reason)
	}
}

func TestLedgerHourWindow(t *testing.T) {
	l, clock := testLedger()

	// An old burst the process never evaluated, then a slow trickle: only
	// the 1h window sees the whole picture.
	for i := 0; i < 11; i++ {
		l.RecordVoiceDisconnect()
	}
	clock.advance(25 * time.Minute)
	for i := 0; i < 9; i++ {
		clock.advance(210 * time.Second) // 3.5 minutes
		l.RecordVoiceDisconnect()
	}

	reason, breached := l.Breach()
	if !breached {
		t.Fatal("no breach after 20 disconnects within the hour")
	}
	if !strings.Contains(reason, "1h") {
		t.Errorf("reason = %q, want the 1h window named", reason)
	}
}

func TestLedgerAPIUnavailability(t *testing.T) {
	l, clock := testLedger()

	l.RecordAPIFailure("connection refused")
	clock.advance(apiDownLimit - time.Second)
	if reason, breached := l.Breach(); breached {
		t.Fatalf("breach before the unavailability limit: %s", reason)
	}

	clock.advance(time.Second)
	reason, breached := l.Breach()
	if !breached {
		t.Fatal("no breach after 900s of unavailability")
	}
	if !strings.Contains(reason, "tts api unavailable") {
		t.Errorf("reason = %q, want tts unavailability named", reason)
	}
}

func TestLedgerAPISuccessResetsClock(t *testing.T) {
	l, clock := testLedger()

	l.RecordAPIFailure("timeout")
	clock.advance(apiDownLimit)
	l.RecordAPISuccess()

	if reason, breached := l.Breach(); breached {
		t.Fatalf("breach after a successful probe: %s", reason)
	}

	// A fresh failure starts a new clock rather than resuming the old one.
	l.RecordAPIFailure("timeout")
	if _, breached := l.Breach(); breached {
		t.Fatal("breach immediately after the first failure of a new outage")
	}
	if snap := l.Snapshot(); snap.ConsecutiveAPIFailures != 1 {
		t.Errorf("ConsecutiveAPIFailures = %d, want 1", snap.ConsecutiveAPIFailures)
	}
}

func TestLedgerPermission(t *testing.T) {
	l, _ := testLedger()

	l.RecordPermissionMissing("connect")
	reason, breached := l.Breach()
	if !breached {
		t.Fatal("no breach with a missing critical permission")
	}
	if !strings.Contains(reason, "connect") {
		t.Errorf("reason = %q, want the permission named", reason)
	}

	l.RecordPermissionOK()
	if reason, breached := l.Breach(); breached {
		t.Fatalf("breach after the permission came back: %s", reason)
	}
}

func TestLedgerSnapshotRecentCap(t *testing.T) {
	l, _ := testLedger()

	for i := 0; i < recentFailureCap+5; i++ {
		l.RecordAPIFailure("x")
	}
	snap := l.Snapshot()
	if len(snap.Recent) != recentFailureCap {
		t.Errorf("len(Recent) = %d, want %d", len(snap.Recent), recentFailureCap)
	}
	if snap.ConsecutiveAPIFailures != recentFailureCap+5 {
		t.Errorf("ConsecutiveAPIFailures = %d, want %d", snap.ConsecutiveAPIFailures, recentFailureCap+5)
	}
}

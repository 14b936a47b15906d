package health

import (
	"fmt"
	"sync"
	"time"
)

// Disconnect-storm windows and their allowances. Reaching an allowance
// within its window is a breach.
const (
	window10m = 10 * time.Minute
	window30m = 30 * time.Minute
	window1h  = time.Hour

	maxDisconnects10m = 5
	maxDisconnects30m = 10
	maxDisconnects1h  = 20

	// apiDownLimit is how long the TTS engine may be consecutively
	// unavailable before the process gives up.
	apiDownLimit = 900 * time.Second

	// recentFailureCap bounds the remembered failure list.
	recentFailureCap = 10
)

// FailureKind classifies a recorded failure.
type FailureKind string

// Failure kinds.
const (
	FailureVoiceDisconnect FailureKind = "voice_disconnect"
	FailureAPI             FailureKind = "tts_api"
	FailurePermission      FailureKind = "permission"
)

// Failure is one recorded incident.
type Failure struct {
	Time   time.Time
	Kind   FailureKind
	Detail string
}

// LedgerSnapshot is a point-in-time view of the ledger counters.
type LedgerSnapshot struct {
	Disconnects10m         int
	Disconnects30m         int
	Disconnects1h          int
	ConsecutiveAPIFailures int
	APIDownFor             time.Duration
	MissingPermission      string
	Recent                 []Failure
}

// Ledger tracks failure history and decides when the accumulated damage
// warrants terminating the process: a voice disconnect storm, a TTS engine
// that stays down, or a missing critical permission.
//
// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	now func() time.Time

	disconnects  []time.Time // pruned against the largest window
	apiDownSince time.Time   // zero while the engine is reachable
	apiFailures  int
	missingPerm  string
	recent       []Failure
}

// NewLedger creates an empty [Ledger].
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// RecordVoiceDisconnect adds one involuntary voice disconnect.
func (l *Ledger) RecordVoiceDisconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.disconnects = append(l.disconnects, now)
	l.pruneLocked(now)
	l.rememberLocked(Failure{Time: now, Kind: FailureVoiceDisconnect, Detail: "voice transport dropped"})
}

// RecordAPIFailure notes one failed TTS probe or request. The first failure
// after a success starts the consecutive-unavailability clock.
func (l *Ledger) RecordAPIFailure(detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.apiFailures++
	if l.apiDownSince.IsZero() {
		l.apiDownSince = now
	}
	l.rememberLocked(Failure{Time: now, Kind: FailureAPI, Detail: detail})
}

// RecordAPISuccess resets the consecutive-unavailability tracking.
func (l *Ledger) RecordAPISuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apiFailures = 0
	l.apiDownSince = time.Time{}
}

// RecordPermissionMissing marks a critical permission as absent.
func (l *Ledger) RecordPermissionMissing(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missingPerm = name
	l.rememberLocked(Failure{Time: l.now(), Kind: FailurePermission, Detail: name})
}

// RecordPermissionOK clears the missing-permission flag.
func (l *Ledger) RecordPermissionOK() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missingPerm = ""
}

// Breach reports whether any termination rule is met, with a human-readable
// reason.
func (l *Ledger) Breach() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if n := l.countSinceLocked(now.Add(-window10m)); n >= maxDisconnects10m {
		return fmt.Sprintf("%d voice disconnects within 10m", n), true
	}
	if n := l.countSinceLocked(now.Add(-window30m)); n >= maxDisconnects30m {
		return fmt.Sprintf("%d voice disconnects within 30m", n), true
	}
	if n := len(l.disconnects); n >= maxDisconnects1h {
		return fmt.Sprintf("%d voice disconnects within 1h", n), true
	}

	if !l.apiDownSince.IsZero() {
		if down := now.Sub(l.apiDownSince); down >= apiDownLimit {
			return fmt.Sprintf("tts api unavailable for %s", down.Truncate(time.Second)), true
		}
	}

	if l.missingPerm != "" {
		return "missing critical permission: " + l.missingPerm, true
	}

	return "", false
}

// Snapshot returns the current counters and the recent failure list.
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	snap := LedgerSnapshot{
		Disconnects10m:         l.countSinceLocked(now.Add(-window10m)),
		Disconnects30m:         l.countSinceLocked(now.Add(-window30m)),
		Disconnects1h:          len(l.disconnects),
		ConsecutiveAPIFailures: l.apiFailures,
		MissingPermission:      l.missingPerm,
		Recent:                 append([]Failure(nil), l.recent...),
	}
	if !l.apiDownSince.IsZero() {
		snap.APIDownFor = now.Sub(l.apiDownSince)
	}
	return snap
}

// pruneLocked drops disconnects older than the largest window.
func (l *Ledger) pruneLocked(now time.Time) {
	cutoff := now.Add(-window1h)
	kept := l.disconnects[:0]
	for _, t := range l.disconnects {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.disconnects = kept
}

// countSinceLocked counts disconnects recorded after cutoff.
func (l *Ledger) countSinceLocked(cutoff time.Time) int {
	n := 0
	for _, t := range l.disconnects {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// rememberLocked appends to the bounded recent-failure list.
func (l *Ledger) rememberLocked(f Failure) {
	l.recent = append(l.recent, f)
	if len(l.recent) > recentFailureCap {
		l.recent = l.recent[len(l.recent)-recentFailureCap:]
	}
}

package admission

import (
	"sync"
	"time"
)

// pruneEvery is how many allow calls pass between sweeps of stale authors.
const pruneEvery = 512

// rateWindow enforces a per-author sliding window of at most limit events
// per period.
type rateWindow struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	events map[string][]time.Time
	calls  int
}

func newRateWindow(limit int, period time.Duration) *rateWindow {
	return &rateWindow{
		limit:  limit,
		period: period,
		events: make(map[string][]time.Time),
	}
}

// allow records an event for authorID at now and reports whether it fits
// the window. Rejected events are not recorded.
func (w *rateWindow) allow(authorID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls++
	if w.calls%pruneEvery == 0 {
		w.pruneLocked(now)
	}

	cutoff := now.Add(-w.period)
	kept := w.events[authorID][:0]
	for _, t := range w.events[authorID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= w.limit {
		w.events[authorID] = kept
		return false
	}
	w.events[authorID] = append(kept, now)
	return true
}

// pruneLocked drops authors whose events all fell out of the window so the
// map does not grow with every author ever seen.
func (w *rateWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.period)
	for author, times := range w.events {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(w.events, author)
		}
	}
}

package admission

import "sync"

// dedupeRing remembers the last capacity content hashes in FIFO order.
type dedupeRing struct {
	mu       sync.Mutex
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newDedupeRing(capacity int) *dedupeRing {
	return &dedupeRing{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// add records hash and returns true when it was not already present. Known
// hashes are rejected without refreshing their position.
func (d *dedupeRing) add(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[hash]; dup {
		return false
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.order = append(d.order, hash)
	d.seen[hash] = struct{}{}
	return true
}

package executor

import (
	"sync"
	"time"
)

// Dedup rejects execution requests whose id was already seen within a
// time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // requestID -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an id as duplicate for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if requestID has been seen within the TTL window.
// Otherwise requestID is recorded and false is returned.
func (d *Dedup) IsDuplicate(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if seenAt, ok := d.seen[requestID]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}
	d.seen[requestID] = now
	return false
}

// Forget drops requestID so a retry of a request that never reached a venue
// is not rejected.
func (d *Dedup) Forget(requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, requestID)
}

// Cleanup removes expired entries. Run periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

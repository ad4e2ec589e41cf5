package executor

import (
	"sync"
	"time"
)

// Dedup remembers trade IDs handed to the processor so a trade is not picked
// up again while it is in flight or shortly after. It is safe for concurrent
// use.
type Dedup struct {
	seen map[string]time.Time // tradeID -> first claimed
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup that holds claims for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records id and returns true, or returns false if id was claimed
// within the TTL.
func (d *Dedup) Claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if claimed, ok := d.seen[id]; ok && now.Sub(claimed) < d.ttl {
		return false
	}
	d.seen[id] = now
	return true
}

// Forget releases a claim so the next poll can pick the trade up again.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Cleanup removes expired claims.
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

// Len returns the number of live claims.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

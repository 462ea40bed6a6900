package turn

import (
	"sync"
	"time"
)

// InflightGuard deduplicates concurrent starts of the same logical
// operation (a turn on a session, a session create for a user+scenario).
// Entries expire after a bound so a crashed holder cannot wedge the key
// forever. Constructed explicitly and injected; there is no package-level
// instance.
type InflightGuard struct {
	mu       sync.Mutex
	inflight map[string]time.Time
	ttl      time.Duration
}

// NewInflightGuard creates a guard whose entries expire after ttl.
func NewInflightGuard(ttl time.Duration) *InflightGuard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &InflightGuard{
		inflight: make(map[string]time.Time),
		ttl:      ttl,
	}
}

// TryAcquire marks key as in flight. It returns false when a live entry
// already holds the key.
func (g *InflightGuard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.sweepLocked(now)

	if exp, ok := g.inflight[key]; ok && now.Before(exp) {
		return false
	}
	g.inflight[key] = now.Add(g.ttl)
	return true
}

// Release frees the key. Releasing an absent key is a no-op.
func (g *InflightGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, key)
}

// sweepLocked drops expired entries. The map stays small (one entry per
// concurrently starting operation), so a full scan is fine.
func (g *InflightGuard) sweepLocked(now time.Time) {
	for key, exp := range g.inflight {
		if !now.Before(exp) {
			delete(g.inflight, key)
		}
	}
}

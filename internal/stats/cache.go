package stats

import (
	"sync"
	"time"
)

// Version identifies the inputs a cached value was computed from.
type Version struct {
	Snapshot    uint64
	Repertoire  uint64
	Invitations uint64
}

// Cache memoizes one Stats value for at most TTL and only while the input
// versions are unchanged.
type Cache struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.Mutex
	value    Stats
	version  Version
	computed time.Time
	valid    bool
}

// Get returns the cached value for v or calls compute.
func (c *Cache) Get(v Version, compute func() Stats) Stats {
	now := c.now()
	c.mu.Lock()
	if c.valid && c.version == v && now.Sub(c.computed) < c.TTL {
		s := c.value
		c.mu.Unlock()
		return s
	}
	c.mu.Unlock()

	s := compute()

	c.mu.Lock()
	c.value, c.version, c.computed, c.valid = s, v, now, true
	c.mu.Unlock()
	return s
}

// Invalidate drops the cached value.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

package verifier

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// resultCache holds verification results for a fixed TTL.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	clock   clock.Clock
}

func newResultCache(ttl time.Duration, c clock.Clock) *resultCache {
	return &resultCache{entries: make(map[string]*cacheEntry), ttl: ttl, clock: c}
}

func (c *resultCache) get(key string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.result, true
}

func (c *resultCache) set(key string, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cacheEntry{result: r, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *resultCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// evict drops expired entries and returns how many were removed.
func (c *resultCache) evict() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package crm

import (
	"sync"
	"time"
)

// stageCache memoizes resolved stage refs. Bounded and TTL'd; the clock is
// injected so expiry is testable. The key space is small (distinct
// pipeline/stage name pairs), the bound is a guardrail.
type stageCache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	now     func() time.Time
	entries map[string]stageCacheEntry
}

type stageCacheEntry struct {
	ref       StageRef
	expiresAt time.Time
}

func newStageCache(max int, ttl time.Duration, now func() time.Time) *stageCache {
	if now == nil {
		now = time.Now
	}
	return &stageCache{
		max:     max,
		ttl:     ttl,
		now:     now,
		entries: make(map[string]stageCacheEntry),
	}
}

func (c *stageCache) Get(key string) (StageRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return StageRef{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return StageRef{}, false
	}
	return e.ref, true
}

func (c *stageCache) Put(key string, ref StageRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = stageCacheEntry{ref: ref, expiresAt: c.now().Add(c.ttl)}
}

// evictLocked drops expired entries first, then an arbitrary one if the
// cache is still full.
func (c *stageCache) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.max {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

/*
cache.go - Explicit TTL cache keyed by data freshness

PURPOSE:
  Dashboard-style previews are expensive to recompute and tolerate short
  staleness - but how short depends on how fresh the underlying inventory
  data was. This cache makes that explicit: the producer reports the
  freshness of what it built, and the freshness picks the TTL. Stale data
  is cached briefly; fresh data longer.

NO HIDDEN STATE:
  The cache is a plain struct handed to whoever needs it. Writers must call
  Invalidate on every mutating transition; expiry is a fallback, not the
  invalidation strategy.
*/
package engine

import (
	"sync"
	"time"
)

// TTLByFreshness selects an entry lifetime from the freshness of the
// produced value. A missing freshness entry means "do not cache".
type TTLByFreshness map[Freshness]time.Duration

// Cache is a small in-memory cache with per-entry TTL chosen by freshness.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]cacheEntry[V]
	ttl     TTLByFreshness
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// DefaultPreviewTTL is the TTL table for dashboard previews: the staler
// the underlying inventory, the shorter the cache lifetime. Unknown
// freshness is never cached.
func DefaultPreviewTTL() TTLByFreshness {
	return TTLByFreshness{
		FreshnessFresh: 5 * time.Minute,
		FreshnessWarn:  time.Minute,
		FreshnessStale: 15 * time.Second,
	}
}

// NewCache creates a cache with the given TTL table.
func NewCache[V any](ttl TTLByFreshness) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]cacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key, or runs produce and caches the
// result for the TTL matching the reported freshness.
func (c *Cache[V]) Get(key string, produce func() (V, Freshness, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	// Produce outside the lock; duplicate production under contention is
	// acceptable, holding the lock across I/O is not.
	value, freshness, err := produce()
	if err != nil {
		var zero V
		return zero, err
	}

	if ttl, ok := c.ttl[freshness]; ok && ttl > 0 {
		c.mu.Lock()
		c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.now().Add(ttl)}
		c.mu.Unlock()
	}
	return value, nil
}

// Invalidate drops one key. Call on every write that affects it.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry[V])
	c.mu.Unlock()
}

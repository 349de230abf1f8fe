// Package hotcache provides two HotCache implementations: an in-process
// map guarded by a mutex with singleflight coalescing (grounded on the
// order-book cache pattern used elsewhere in the ecosystem for
// short-lived, frequently-refreshed market data), and a durable
// BadgerHold-backed variant for deployments that want the hot tier to
// survive a restart.
package hotcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kdalton/tradesim/internal/common"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a thread-safe in-memory HotCache. A singleflight.Group
// ensures at most one concurrent Coalesce call per key is actually
// computed; concurrent callers for the same key await and share the result.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	group   singleflight.Group
	clock   common.Clock
}

// NewMemoryCache creates an empty in-memory hot cache.
func NewMemoryCache(clock common.Clock) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		clock:   clock,
	}
}

// Get returns the cached value for key if present and not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.clock.Now().After(e.expires) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL. Last-writer-wins.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Periodic eviction: bound memory when many distinct tickers/ranges
	// have been touched — sweep entries expired more than 30 minutes ago.
	if len(c.entries) > 4096 {
		c.evictExpiredLocked(30 * time.Minute)
	}

	c.entries[key] = &memoryEntry{value: value, expires: c.clock.Now().Add(ttl)}
	return nil
}

// Delete removes key from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Coalesce runs fn at most once concurrently per key; other callers for the
// same key block on the in-flight call and receive its result.
func (c *MemoryCache) Coalesce(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// Close is a no-op for the in-memory backend.
func (c *MemoryCache) Close() error { return nil }

// EvictExpired sweeps entries older than staleFor past their expiry,
// bounding memory growth for long-running processes that touch many
// tickers over time.
func (c *MemoryCache) EvictExpired(staleFor time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpiredLocked(staleFor)
}

func (c *MemoryCache) evictExpiredLocked(staleFor time.Duration) int {
	now := c.clock.Now()
	evicted := 0
	for key, e := range c.entries {
		if now.Sub(e.expires) > staleFor {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// Package memory is the in-process result cache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pario-ai/predictgate/pkg/models"
)

// DefaultTTL applies when New is given a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Cache keeps entries in a map until they are invalidated or cleared.
// Expired entries are not evicted; Get marks them stale instead.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	ttl     time.Duration
	now     func() time.Time
	hits    int64
	misses  int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty Cache.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]*models.CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for key. An entry older than the TTL is flagged stale
// and stays stale; its CreatedAt is never touched.
func (c *Cache) Get(_ context.Context, key string) (models.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return models.CacheEntry{}, false, nil
	}
	if !e.IsStale && c.now().Sub(e.CreatedAt) > c.ttl {
		e.IsStale = true
	}
	c.hits++
	return *e, true, nil
}

// Set stores data under key with a fresh timestamp, replacing any entry.
func (c *Cache) Set(_ context.Context, key string, data models.PredictionResult) error {
	c.mu.Lock()
	c.entries[key] = &models.CacheEntry{
		Key:       key,
		Data:      data,
		CreatedAt: c.now(),
	}
	c.mu.Unlock()
	return nil
}

// Invalidate removes key. Absent keys are ignored.
func (c *Cache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear(context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*models.CacheEntry)
	c.mu.Unlock()
	return nil
}

// Prune removes entries older than the TTL.
func (c *Cache) Prune(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var n int64
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Stats counts entries and lookups. Stale counts entries already flagged by Get.
func (c *Cache) Stats(context.Context) (models.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.CacheStats{
		Entries: int64(len(c.entries)),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	for _, e := range c.entries {
		if e.IsStale {
			s.Stale++
		}
	}
	return s, nil
}

// Close is a no-op.
func (c *Cache) Close() error { return nil }

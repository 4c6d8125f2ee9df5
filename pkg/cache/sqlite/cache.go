// Package sqlite is a result cache persisted in SQLite, so cached
// predictions survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/predictgate/pkg/models"
)

// DefaultTTL applies when New is given a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Cache is a prediction result cache backed by SQLite.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS prediction_cache (
	cache_key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	is_stale INTEGER NOT NULL DEFAULT 0
);
`

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New opens (or creates) the cache database at dbPath.
func New(dbPath string, ttl time.Duration, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// One writer keeps the stale flip and concurrent Sets serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{db: db, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for key. An entry older than the TTL is flagged stale
// in the database and stays stale; CreatedAt is never rewritten.
func (c *Cache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	var (
		data      []byte
		createdAt int64
		stale     bool
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT data, created_at, is_stale FROM prediction_cache WHERE cache_key = ?`, key,
	).Scan(&data, &createdAt, &stale)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}

	entry := models.CacheEntry{
		Key:       key,
		CreatedAt: time.Unix(0, createdAt),
		IsStale:   stale,
	}
	if err := json.Unmarshal(data, &entry.Data); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}

	if !entry.IsStale && c.now().Sub(entry.CreatedAt) > c.ttl {
		entry.IsStale = true
		if _, err := c.db.ExecContext(ctx,
			`UPDATE prediction_cache SET is_stale = 1 WHERE cache_key = ? AND created_at = ?`,
			key, createdAt,
		); err != nil {
			return models.CacheEntry{}, false, fmt.Errorf("mark stale: %w", err)
		}
	}

	c.hits.Add(1)
	return entry, true, nil
}

// Set stores data under key with a fresh timestamp, replacing any entry.
func (c *Cache) Set(ctx context.Context, key string, data models.PredictionResult) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO prediction_cache (cache_key, data, created_at, is_stale)
		 VALUES (?, ?, ?, 0)`,
		key, blob, c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes key. Absent keys are ignored.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM prediction_cache WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM prediction_cache`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Prune removes entries older than the TTL.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.ttl).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM prediction_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns cache performance metrics. Hits and misses count lookups
// made by this process only.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var s models.CacheStats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_stale), 0) FROM prediction_cache`,
	).Scan(&s.Entries, &s.Stale)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	return s, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Package cache stores prediction results keyed by request fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pario-ai/predictgate/pkg/cache/memory"
	"github.com/pario-ai/predictgate/pkg/cache/sqlite"
	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/models"
)

// Store is a TTL cache of prediction results. Entries older than the TTL are
// still returned, flagged stale; callers decide whether to revalidate.
type Store interface {
	Get(ctx context.Context, key string) (models.CacheEntry, bool, error)
	Set(ctx context.Context, key string, data models.PredictionResult) error
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Prune removes entries older than the TTL and reports how many went.
	Prune(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (models.CacheStats, error)
	Close() error
}

var (
	_ Store = (*memory.Cache)(nil)
	_ Store = (*sqlite.Cache)(nil)
)

// Fingerprint derives the cache key for req as
// "prediction:<value>:<text>:<params as JSON>". Params keys are sorted, so
// equal maps produce equal keys. Distinct requests can only collide if their
// rendered parts happen to concatenate identically.
func Fingerprint(req models.PredictionRequest) string {
	params := "{}"
	if len(req.Params) > 0 {
		if b, err := json.Marshal(req.Params); err == nil {
			params = string(b)
		} else {
			// Values JSON cannot encode (NaN, channels) still key apart.
			// fmt prints maps with sorted keys.
			params = fmt.Sprint(req.Params)
		}
	}
	return fmt.Sprintf("prediction:%s:%s:%s",
		strconv.FormatFloat(req.Value, 'f', -1, 64), req.Text, params)
}

// New opens the backend selected by cfg. dbPath is only used by the sqlite
// backend.
func New(cfg config.CacheConfig, dbPath string) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(cfg.TTL), nil
	case "sqlite":
		c, err := sqlite.New(dbPath, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

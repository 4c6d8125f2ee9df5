package models

import "time"

// CacheEntry stores a cached prediction result.
type CacheEntry struct {
	Key       string           `json:"key"`
	Data      PredictionResult `json:"data"`
	CreatedAt time.Time        `json:"created_at"`
	IsStale   bool             `json:"is_stale"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Stale   int64 `json:"stale"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

package models

import "time"

// Outcome labels how a prediction call was answered.
type Outcome string

const (
	OutcomeBackend Outcome = "backend"
	OutcomeCached  Outcome = "cached"
	OutcomeStale   Outcome = "stale"
	OutcomeError   Outcome = "error"
)

// AuditEntry represents a single audited prediction call.
type AuditEntry struct {
	RequestID      string    `json:"request_id"`
	CacheKey       string    `json:"cache_key"`
	Value          float64   `json:"value"`
	Text           string    `json:"text,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	ProcessedValue float64   `json:"processed_value"`
	PredictionText string    `json:"prediction,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled         bool      `yaml:"enabled"`
	DBPath          string    `yaml:"db_path"`
	RetentionDays   int       `yaml:"retention_days"`
	ExcludeOutcomes []Outcome `yaml:"exclude_outcomes"`
	MaxTextSize     int       `yaml:"max_text_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Outcome   Outcome
	Since     time.Time
	CacheKey  string
	RequestID string
	Limit     int
}

// AuditStat holds aggregate audit counts for an outcome/day combination.
type AuditStat struct {
	Outcome Outcome
	Day     string
	Count   int
}

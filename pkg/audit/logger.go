// Package audit records every prediction call in a dedicated SQLite database.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/predictgate/pkg/models"
)

// Logger writes and queries audit entries in a dedicated SQLite database.
// A nil *Logger discards everything, so callers need not check whether
// auditing is enabled.
type Logger struct {
	db      *sql.DB
	cfg     models.AuditConfig
	done    chan struct{}
	wg      sync.WaitGroup
	exclude map[models.Outcome]bool
}

// NewRequestID returns a fresh id for an audit entry.
func NewRequestID() string {
	return uuid.NewString()
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	exc := make(map[models.Outcome]bool)
	for _, o := range cfg.ExcludeOutcomes {
		exc[o] = true
	}

	l := &Logger{
		db:      db,
		cfg:     cfg,
		done:    make(chan struct{}),
		exclude: exc,
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS prediction_audit (
		request_id      TEXT PRIMARY KEY,
		cache_key       TEXT NOT NULL,
		input_value     REAL NOT NULL,
		input_text      TEXT,
		outcome         TEXT NOT NULL,
		processed_value REAL,
		prediction      TEXT,
		error_kind      TEXT,
		error_message   TEXT,
		latency_ms      INTEGER,
		created_at      INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_outcome ON prediction_audit(outcome)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_created ON prediction_audit(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_key ON prediction_audit(cache_key)`)
	return err
}

// Log inserts an audit entry, skipping excluded outcomes and truncating
// free text to MaxTextSize.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if l.exclude[entry.Outcome] {
		return nil
	}

	if entry.RequestID == "" {
		entry.RequestID = NewRequestID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if n := l.cfg.MaxTextSize; n > 0 {
		entry.Text = truncate(entry.Text, n)
		entry.PredictionText = truncate(entry.PredictionText, n)
		entry.ErrorMessage = truncate(entry.ErrorMessage, n)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO prediction_audit
		(request_id, cache_key, input_value, input_text, outcome,
		 processed_value, prediction, error_kind, error_message,
		 latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.CacheKey, entry.Value, entry.Text, string(entry.Outcome),
		entry.ProcessedValue, entry.PredictionText, entry.ErrorKind, entry.ErrorMessage,
		entry.LatencyMs, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	return nil
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}

	q := `SELECT request_id, cache_key, input_value, input_text, outcome,
		processed_value, prediction, error_kind, error_message,
		latency_ms, created_at
		FROM prediction_audit WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.CacheKey != "" {
		q += " AND cache_key = ?"
		args = append(args, opts.CacheKey)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e                                 models.AuditEntry
			text, prediction, errKind, errMsg sql.NullString
			outcome                           string
			processed                         sql.NullFloat64
			latency                           sql.NullInt64
			createdAt                         int64
		)
		if err := rows.Scan(
			&e.RequestID, &e.CacheKey, &e.Value, &text, &outcome,
			&processed, &prediction, &errKind, &errMsg,
			&latency, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Text = text.String
		e.Outcome = models.Outcome(outcome)
		e.ProcessedValue = processed.Float64
		e.PredictionText = prediction.String
		e.ErrorKind = errKind.String
		e.ErrorMessage = errMsg.String
		e.LatencyMs = latency.Int64
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by outcome and UTC day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT outcome, date(created_at / 1000, 'unixepoch') AS day, count(*) AS cnt
		 FROM prediction_audit GROUP BY outcome, day ORDER BY day DESC, outcome`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var outcome string
		var day sql.NullString
		if err := rows.Scan(&outcome, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Outcome = models.Outcome(outcome)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period. A
// retention of zero or less keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l == nil || l.db == nil || l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM prediction_audit WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

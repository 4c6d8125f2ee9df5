// Package predict answers prediction requests from the cache when it can and
// from the backend when it must.
package predict

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/predictgate/pkg/audit"
	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/models"
)

// Source says where a result came from.
type Source string

const (
	SourceBackend Source = "backend"
	SourceCache   Source = "cache"
	SourceStale   Source = "stale"
)

func (s Source) outcome() models.Outcome {
	switch s {
	case SourceCache:
		return models.OutcomeCached
	case SourceStale:
		return models.OutcomeStale
	default:
		return models.OutcomeBackend
	}
}

// Predictor sends a request to the backend.
type Predictor interface {
	Predict(ctx context.Context, req models.PredictionRequest) (models.PredictionResult, error)
}

// Recorder stores audit entries. *audit.Logger satisfies it, nil included.
type Recorder interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Outcome is a served prediction.
type Outcome struct {
	RequestID string                  `json:"request_id"`
	Key       string                  `json:"cache_key"`
	Result    models.PredictionResult `json:"result"`
	Source    Source                  `json:"source"`
	CachedAt  time.Time               `json:"cached_at,omitzero"`
}

// Service combines the backend client, the result cache and the audit log.
type Service struct {
	client  Predictor
	store   cache.Store
	auditor Recorder
	logger  *slog.Logger
	now     func() time.Time

	fetchTimeout time.Duration

	group singleflight.Group
	bg    sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now for latency and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFetchTimeout bounds a backend call that runs detached from its
// callers: a shared miss or a background refresh of a stale entry.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) { s.fetchTimeout = d }
}

// New creates a Service. store and auditor may be nil.
func New(c Predictor, store cache.Store, auditor Recorder, opts ...Option) *Service {
	s := &Service{
		client:       c,
		store:        store,
		auditor:      auditor,
		logger:       slog.Default(),
		now:          time.Now,
		fetchTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict serves req. A fresh cache entry is returned as is. A stale entry is
// returned immediately while a background refresh runs. A miss goes to the
// backend; concurrent misses for the same key share one backend call.
func (s *Service) Predict(ctx context.Context, req models.PredictionRequest) (Outcome, error) {
	start := s.now()
	req = req.Normalize()
	out := Outcome{
		RequestID: audit.NewRequestID(),
		Key:       cache.Fingerprint(req),
	}

	if entry, ok := s.lookup(ctx, out.Key); ok {
		out.Result = entry.Data
		out.CachedAt = entry.CreatedAt
		out.Source = SourceCache
		if entry.IsStale {
			out.Source = SourceStale
			s.revalidate(ctx, out.Key, req)
		}
		s.record(ctx, req, out, nil, start)
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		s.record(ctx, req, out, err, start)
		return out, err
	}

	// The backend call is shared by every caller of the same key, so it runs
	// detached and each caller only stops waiting on its own cancellation.
	detached := context.WithoutCancel(ctx)
	s.bg.Add(1)
	ch := s.group.DoChan(out.Key, func() (any, error) {
		fctx, cancel := context.WithTimeout(detached, s.fetchTimeout)
		defer cancel()
		return s.fetch(fctx, out.Key, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
		s.bg.Done()
	case <-ctx.Done():
		go func() {
			<-ch
			s.bg.Done()
		}()
		s.record(ctx, req, out, ctx.Err(), start)
		return out, ctx.Err()
	}

	if res.Err != nil {
		s.record(ctx, req, out, res.Err, start)
		return out, res.Err
	}
	if res.Shared {
		s.logger.DebugContext(ctx, "joined in-flight prediction", "key", out.Key)
	}
	out.Result = res.Val.(models.PredictionResult)
	out.Source = SourceBackend
	s.record(ctx, req, out, nil, start)
	return out, nil
}

func (s *Service) lookup(ctx context.Context, key string) (models.CacheEntry, bool) {
	if s.store == nil {
		return models.CacheEntry{}, false
	}
	entry, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "cache lookup failed", "key", key, "error", err)
		return models.CacheEntry{}, false
	}
	return entry, ok
}

func (s *Service) fetch(ctx context.Context, key string, req models.PredictionRequest) (models.PredictionResult, error) {
	res, err := s.client.Predict(ctx, req)
	if err != nil {
		return models.PredictionResult{}, err
	}
	if s.store != nil {
		if err := s.store.Set(ctx, key, res); err != nil {
			s.logger.WarnContext(ctx, "cache store failed", "key", key, "error", err)
		}
	}
	return res, nil
}

// revalidate refreshes key in the background, detached from the caller's
// cancellation. At most one refresh per key runs at a time.
func (s *Service) revalidate(ctx context.Context, key string, req models.PredictionRequest) {
	detached := context.WithoutCancel(ctx)
	s.bg.Add(1)
	ch := s.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(detached, s.fetchTimeout)
		defer cancel()

		res, err := s.fetch(rctx, key, req)
		if err != nil {
			s.logger.Warn("stale entry refresh failed", "key", key, "kind", client.Kind(err), "error", err)
			return nil, err
		}
		s.logger.Debug("stale entry refreshed", "key", key)
		return res, nil
	})
	go func() {
		<-ch
		s.bg.Done()
	}()
}

// Wait blocks until background refreshes and abandoned shared calls finish.
func (s *Service) Wait() {
	s.bg.Wait()
}

func (s *Service) record(ctx context.Context, req models.PredictionRequest, out Outcome, err error, start time.Time) {
	if s.auditor == nil {
		return
	}
	entry := models.AuditEntry{
		RequestID:      out.RequestID,
		CacheKey:       out.Key,
		Value:          req.Value,
		Text:           req.Text,
		Outcome:        out.Source.outcome(),
		ProcessedValue: out.Result.ProcessedValue,
		PredictionText: out.Result.PredictionText,
		LatencyMs:      s.now().Sub(start).Milliseconds(),
		CreatedAt:      start,
	}
	if err != nil {
		entry.Outcome = models.OutcomeError
		entry.ErrorKind = client.Kind(err)
		entry.ErrorMessage = err.Error()
	}
	if lerr := s.auditor.Log(context.WithoutCancel(ctx), entry); lerr != nil {
		s.logger.WarnContext(ctx, "audit log failed", "request_id", out.RequestID, "error", lerr)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pario-ai/predictgate/pkg/audit"
	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/health"
	"github.com/pario-ai/predictgate/pkg/predict"
)

// stack is the set of components a prediction needs.
type stack struct {
	monitor *health.Monitor
	client  *client.Client
	store   cache.Store
	auditor *audit.Logger
	service *predict.Service
}

func buildStack(cfg *config.Config) (*stack, error) {
	logger := slog.Default()
	s := &stack{}

	// The monitor probes through the same client it gates.
	s.monitor = health.New(
		func(ctx context.Context) error { return s.client.CheckHealth(ctx) },
		health.WithInterval(cfg.Health.Interval),
		health.WithTimeout(cfg.Health.Timeout),
		health.WithLogger(logger.With("component", "health")),
	)

	opts := []client.Option{client.WithLogger(logger.With("component", "client"))}
	if cfg.Health.Enabled {
		opts = append(opts, client.WithStatus(s.monitor))
	}
	s.client = client.New(cfg.Backend, opts...)

	if cfg.Cache.Enabled {
		store, err := cache.New(cfg.Cache, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		s.store = store
	}

	if cfg.Audit.Enabled {
		a, err := audit.New(cfg.Audit)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("init audit log: %w", err)
		}
		s.auditor = a
	}

	s.service = predict.New(s.client, s.store, s.auditor,
		predict.WithLogger(logger.With("component", "predict")),
		predict.WithFetchTimeout(s.worstCase(cfg.Backend)))
	return s, nil
}

// worstCase is how long a full retry sequence can take, saturating at the
// largest Duration.
func (s *stack) worstCase(b config.BackendConfig) time.Duration {
	total := b.Timeout
	for i := 0; i < b.MaxRetries; i++ {
		total = satAdd(total, s.client.Backoff(i))
		total = satAdd(total, b.Timeout)
	}
	return total
}

func satAdd(a, b time.Duration) time.Duration {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func (s *stack) Close() {
	if s.service != nil {
		s.service.Wait()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = s.auditor.Close()
}

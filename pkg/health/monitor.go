// Package health tracks whether the prediction backend is reachable.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/models"
)

// Prober performs a single health probe. A nil error means healthy.
type Prober func(ctx context.Context) error

// Monitor polls the backend on an interval and exposes the last known
// ServerStatus to callers and subscribers.
type Monitor struct {
	probe    Prober
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	status models.ServerStatus

	subMu  sync.Mutex
	subs   map[int]func(models.ServerStatus)
	nextID int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger used for status transitions.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor. It starts offline with no check recorded.
func New(probe Prober, opts ...Option) *Monitor {
	m := &Monitor{
		probe:    probe,
		interval: 5 * time.Second,
		timeout:  3 * time.Second,
		now:      time.Now,
		logger:   slog.Default(),
		subs:     make(map[int]func(models.ServerStatus)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns a snapshot of the current status.
func (m *Monitor) Status() models.ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// CheckNow probes the backend immediately, records the outcome and reports
// whether the backend is online. LastCheck is updated on every attempt.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(probeCtx)
	cancel()

	m.mu.Lock()
	prev := m.status
	checkedAt := m.now()
	if checkedAt.Before(prev.LastCheck) {
		checkedAt = prev.LastCheck
	}
	next := models.ServerStatus{
		IsOnline:  err == nil,
		LastCheck: checkedAt,
	}
	if err != nil {
		next.Error = m.describe(err)
	}
	m.status = next
	m.mu.Unlock()

	switch {
	case next.IsOnline && !prev.IsOnline:
		m.logger.Info("prediction backend online")
	case !next.IsOnline && (prev.IsOnline || prev.LastCheck.IsZero()):
		m.logger.Warn("prediction backend offline", "error", next.Error)
	default:
		m.logger.Debug("health check", "online", next.IsOnline)
	}

	m.notify(next)
	return next.IsOnline
}

func (m *Monitor) describe(err error) string {
	var se *client.HTTPStatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("server responded with status %d", se.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("health check timed out after %s", m.timeout)
	default:
		return err.Error()
	}
}

// Start checks immediately and then on every interval until Stop is called
// or ctx is cancelled. Calling Start while running has no effect.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running() {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		m.CheckNow(loopCtx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.CheckNow(loopCtx)
			}
		}
	}()
}

// Stop halts periodic checks and waits for the loop to exit. It is a no-op
// when the monitor is not running.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// Running reports whether the polling loop is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running()
}

// running must be called with runMu held.
func (m *Monitor) running() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Subscribe registers fn to receive the status after every check. The
// returned function removes the subscription.
func (m *Monitor) Subscribe(fn func(models.ServerStatus)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Monitor) notify(s models.ServerStatus) {
	m.subMu.Lock()
	fns := make([]func(models.ServerStatus), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Reset returns the monitor to its initial offline, unchecked state and
// tells subscribers.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.status = models.ServerStatus{}
	m.mu.Unlock()
	m.notify(models.ServerStatus{})
}

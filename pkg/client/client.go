// Package client talks to the Gradio-compatible prediction backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/models"
)

// maxBodySize bounds how much of a backend response is read.
const maxBodySize = 10 << 20

// StatusSource reports backend reachability. The health monitor implements it.
type StatusSource interface {
	Status() models.ServerStatus
	CheckNow(ctx context.Context) bool
}

// Client sends predictions to the backend with retry, backoff and
// per-attempt timeouts.
type Client struct {
	cfg        config.BackendConfig
	status     StatusSource
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithStatus makes Predict consult s before sending.
func WithStatus(s StatusSource) Option {
	return func(c *Client) { c.status = s }
}

// WithLogger sets the logger used for retry and failure messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the backend described by cfg.
func New(cfg config.BackendConfig, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.PredictPath == "" {
		cfg.PredictPath = "/api/predict"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/health"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict sends req to the backend and returns the unwrapped result.
//
// Transport failures and non-2xx responses are retried up to MaxRetries
// times with exponential backoff. Protocol errors and backend rejections are
// returned immediately.
func (c *Client) Predict(ctx context.Context, req models.PredictionRequest) (models.PredictionResult, error) {
	if c.status != nil && !c.status.Status().IsOnline {
		if !c.status.CheckNow(ctx) {
			c.logger.WarnContext(ctx, "prediction skipped, backend offline", "url", c.cfg.BaseURL)
			return models.PredictionResult{}, ErrServerUnavailable
		}
	}

	body, err := json.Marshal(gradioRequest{Data: []any{req.Value, req.Text}})
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("marshal request: %w", err)
	}

	attempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.Backoff(attempt - 1)
			c.logger.WarnContext(ctx, "prediction attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", wait,
				"error", lastErr)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return models.PredictionResult{}, ctx.Err()
			case <-timer.C:
			}
		}

		respBody, err := c.send(ctx, body)
		if err == nil {
			result, err := unwrapEnvelope(respBody)
			if err != nil {
				c.logger.ErrorContext(ctx, "prediction failed", "kind", Kind(err), "error", err)
				return models.PredictionResult{}, err
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return models.PredictionResult{}, ctx.Err()
		}
		if !IsRetryable(err) {
			return models.PredictionResult{}, err
		}
		lastErr = err
	}

	c.logger.ErrorContext(ctx, "prediction failed",
		"kind", Kind(lastErr),
		"attempts", attempts,
		"error", lastErr)
	return models.PredictionResult{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// Backoff returns the wait before retry n (0-based): InitialDelay * 2^n,
// capped at MaxDelay when set. Without MaxDelay it saturates at the largest
// Duration instead of overflowing.
func (c *Client) Backoff(n int) time.Duration {
	d := c.cfg.InitialDelay
	for i := 0; i < n; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if c.cfg.MaxDelay > 0 && d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if c.cfg.MaxDelay > 0 && d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}

// send performs one bounded POST and returns the body of a 2xx response.
func (c *Client) send(ctx context.Context, body []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + c.cfg.PredictPath
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "POST " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(strings.TrimSpace(string(respBody)), 512),
		}
	}
	return respBody, nil
}

// CheckHealth probes the health endpoint once. Any 2xx counts as healthy.
// The caller bounds the probe through ctx.
func (c *Client) CheckHealth(ctx context.Context) error {
	endpoint := c.cfg.HealthBase() + c.cfg.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "GET " + endpoint, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

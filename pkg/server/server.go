// Package server exposes predictions, backend status, cache management and
// the PDF proxy over HTTP, and passes every other path through to the
// backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/models"
	"github.com/pario-ai/predictgate/pkg/pdf"
	"github.com/pario-ai/predictgate/pkg/predict"
)

const maxRequestBody = 1 << 20

// Predictor serves prediction requests.
type Predictor interface {
	Predict(ctx context.Context, req models.PredictionRequest) (predict.Outcome, error)
}

// StatusChecker reports and refreshes backend reachability.
type StatusChecker interface {
	Status() models.ServerStatus
	CheckNow(ctx context.Context) bool
}

// Server is the predictgate HTTP front end.
type Server struct {
	cfg         *config.Config
	predictor   Predictor
	status      StatusChecker
	store       cache.Store
	passthrough *httputil.ReverseProxy
	logger      *slog.Logger
	transport   http.RoundTripper
	mux         *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTransport sets the transport used for the PDF and passthrough proxies.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// New creates a Server wired with all dependencies. store may be nil when
// caching is disabled.
func New(cfg *config.Config, p Predictor, status StatusChecker, store cache.Store, opts ...Option) (*Server, error) {
	target, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		predictor: p,
		status:    status,
		store:     store,
		logger:    slog.Default(),
		transport: http.DefaultTransport,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.passthrough = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: s.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.ErrorContext(r.Context(), "passthrough failed", "path", r.URL.Path, "error", err)
			writeJSONError(w, http.StatusBadGateway, "transport", "backend unreachable")
		},
	}

	pdfProxy := pdf.NewProxy(cfg.PDF, cfg.Backend.BaseURL,
		pdf.WithHTTPClient(&http.Client{Transport: s.transport}),
		pdf.WithLogger(s.logger))

	s.mux.HandleFunc("POST /api/predict", s.handlePredict)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/status/check", s.handleCheck)
	s.mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("DELETE /api/cache", s.handleCacheClear)
	s.mux.HandleFunc("DELETE /api/cache/{key...}", s.handleCacheInvalidate)
	s.mux.Handle("/api/pdf/{id}", pdfProxy)
	s.mux.HandleFunc("/", s.handlePassthrough)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.InfoContext(r.Context(), "request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start))
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("predictgate listening", "addr", s.cfg.Listen, "backend", s.cfg.Backend.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type predictResponse struct {
	models.PredictionResult
	Source    predict.Source `json:"source"`
	CacheKey  string         `json:"cache_key"`
	RequestID string         `json:"request_id"`
	CachedAt  *time.Time     `json:"cached_at,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req models.PredictionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	out, err := s.predictor.Predict(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		s.logger.WarnContext(r.Context(), "prediction failed",
			"request_id", out.RequestID, "kind", client.Kind(err), "status", code, "error", err)
		writeJSONError(w, code, client.Kind(err), client.UserMessage(err))
		return
	}

	resp := predictResponse{
		PredictionResult: out.Result,
		Source:           out.Source,
		CacheKey:         out.Key,
		RequestID:        out.RequestID,
	}
	resp.RawResponse = nil
	if !out.CachedAt.IsZero() {
		resp.CachedAt = &out.CachedAt
	}

	w.Header().Set("X-Predictgate-Cache", cacheHeader(out.Source))
	w.Header().Set("X-Request-Id", out.RequestID)
	writeJSON(w, http.StatusOK, resp)
}

func cacheHeader(src predict.Source) string {
	switch src {
	case predict.SourceCache:
		return "hit"
	case predict.SourceStale:
		return "stale"
	default:
		return "miss"
	}
}

// statusFor maps a prediction error to the HTTP status returned to callers.
func statusFor(err error) int {
	var (
		br *client.BackendRejection
		pe *client.ProtocolError
	)
	switch {
	case errors.Is(err, client.ErrServerUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &br):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe), errors.Is(err, client.ErrRetriesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type statusResponse struct {
	models.ServerStatus
	Message string `json:"message"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	writeJSON(w, http.StatusOK, statusResponse{ServerStatus: st, Message: st.Message()})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.status.CheckNow(r.Context())
	s.handleStatus(w, r)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusNotFound, "cache_disabled", "cache is disabled")
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "cache stats failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "cache", "cache stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusNotFound, "cache_disabled", "cache is disabled")
		return
	}
	if err := s.store.Clear(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "cache clear failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "cache", "cache clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSONError(w, http.StatusNotFound, "cache_disabled", "cache is disabled")
		return
	}
	key := r.PathValue("key")
	if err := s.store.Invalidate(r.Context(), key); err != nil {
		s.logger.ErrorContext(r.Context(), "cache invalidate failed", "key", key, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "cache", "cache invalidate failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	s.passthrough.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func writeJSONError(w http.ResponseWriter, code int, kind, message string) {
	if kind == "" {
		kind = "predictgate_error"
	}
	writeJSON(w, code, map[string]errorBody{
		"error": {Message: message, Type: kind, Code: code},
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pario-ai/predictgate/pkg/cache/memory"
	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/models"
	"github.com/pario-ai/predictgate/pkg/predict"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStatus struct {
	status models.ServerStatus
	checks atomic.Int32
}

func (f *fakeStatus) Status() models.ServerStatus { return f.status }

func (f *fakeStatus) CheckNow(context.Context) bool {
	f.checks.Add(1)
	f.status = models.ServerStatus{IsOnline: true, LastCheck: time.Now()}
	return true
}

type stubPredictor struct {
	out predict.Outcome
	err error
}

func (s stubPredictor) Predict(context.Context, models.PredictionRequest) (predict.Outcome, error) {
	return s.out, s.err
}

// setupServer wires the real client, cache and service against upstream.
func setupServer(t *testing.T, upstream *httptest.Server) (*Server, *memory.Cache) {
	t.Helper()

	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Backend.BaseURL = upstream.URL
	cfg.Backend.InitialDelay = time.Millisecond
	cfg.Backend.MaxRetries = 1

	cl := client.New(cfg.Backend, client.WithLogger(quietLogger()))
	store := memory.New(time.Hour)
	svc := predict.New(cl, store, nil, predict.WithLogger(quietLogger()))

	srv, err := New(cfg, svc, &fakeStatus{}, store, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	return srv, store
}

func gradioBackend(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/predict":
			calls.Add(1)
			var body struct {
				Data []any `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode upstream body: %v", err)
			}
			v, _ := body.Data[0].(float64)
			fmt.Fprintf(w, `{"data":[%v,"ok"]}`, v*2)
		case "/api/pdf-basic/missing":
			http.NotFound(w, r)
		default:
			w.Header().Set("X-Upstream-Path", r.URL.Path)
			fmt.Fprint(w, "passthrough")
		}
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

func TestPredict(t *testing.T) {
	var calls atomic.Int32
	srv, _ := setupServer(t, gradioBackend(t, &calls))

	body := `{"value":3,"text":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Predictgate-Cache") != "miss" {
		t.Error("expected cache miss on first request")
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["processed_value"] != float64(6) || resp["prediction"] != "ok" {
		t.Errorf("unexpected body: %v", resp)
	}
	if resp["cache_key"] != "prediction:3:hi:{}" {
		t.Errorf("unexpected cache key: %v", resp["cache_key"])
	}
	if _, ok := resp["raw_response"]; ok {
		t.Error("raw backend response should not be exposed")
	}

	// Second request should be cached
	req = httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Header().Get("X-Predictgate-Cache") != "hit" {
		t.Errorf("expected cache hit, got %q", w.Header().Get("X-Predictgate-Cache"))
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestPredictInvalidBody(t *testing.T) {
	var calls atomic.Int32
	srv, _ := setupServer(t, gradioBackend(t, &calls))

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"value":`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if calls.Load() != 0 {
		t.Error("invalid body must not reach the backend")
	}
}

func TestPredictErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		kind string
	}{
		{"unavailable", client.ErrServerUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"rejection", &client.BackendRejection{Message: "value out of range"}, http.StatusUnprocessableEntity, "rejection"},
		{"protocol", &client.ProtocolError{Reason: "missing data"}, http.StatusBadGateway, "protocol"},
		{
			"exhausted",
			fmt.Errorf("%w after 4 attempts: %w", client.ErrRetriesExhausted, &client.HTTPStatusError{StatusCode: 503, Status: "503 Service Unavailable"}),
			http.StatusBadGateway,
			"http_status",
		},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			srv, err := New(cfg, stubPredictor{err: tt.err}, &fakeStatus{}, nil, WithLogger(quietLogger()))
			if err != nil {
				t.Fatal(err)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"value":1}`))
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			var resp struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
					Code    int    `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Error.Code != tt.want || resp.Error.Type != tt.kind || resp.Error.Message == "" {
				t.Errorf("unexpected error body: %+v", resp.Error)
			}
		})
	}
}

func TestRejectionMessageSurfaced(t *testing.T) {
	srv, err := New(config.Default(), stubPredictor{err: &client.BackendRejection{Message: "value out of range"}},
		&fakeStatus{}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"value":1}`)))
	if !strings.Contains(w.Body.String(), "value out of range") {
		t.Errorf("expected backend message in body, got %s", w.Body.String())
	}
}

func TestRejectionMessageWithControlCharacters(t *testing.T) {
	msg := "bad input\x1b[31m\n\"quoted\" \u2028"
	srv, err := New(config.Default(), stubPredictor{err: &client.BackendRejection{Message: msg}},
		&fakeStatus{}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"value":1}`)))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not valid JSON: %v\nraw: %s", err, w.Body.String())
	}
	if resp.Error.Message != msg {
		t.Errorf("message = %q, want %q", resp.Error.Message, msg)
	}
	if resp.Error.Type != "rejection" {
		t.Errorf("type = %q, want rejection", resp.Error.Type)
	}
}

func TestStaleHeader(t *testing.T) {
	out := predict.Outcome{RequestID: "r1", Key: "k", Source: predict.SourceStale, CachedAt: time.Now().Add(-time.Hour)}
	srv, err := New(config.Default(), stubPredictor{out: out}, &fakeStatus{}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"value":1}`)))
	if got := w.Header().Get("X-Predictgate-Cache"); got != "stale" {
		t.Errorf("expected stale header, got %q", got)
	}
	if !strings.Contains(w.Body.String(), `"cached_at"`) {
		t.Error("expected cached_at in stale response")
	}
}

func TestStatus(t *testing.T) {
	st := &fakeStatus{status: models.ServerStatus{Error: "connection refused"}}
	srv, err := New(config.Default(), stubPredictor{}, st, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["is_online"] != false || resp["message"] != "disconnected: connection refused" {
		t.Errorf("unexpected status: %v", resp)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/status/check", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if st.checks.Load() != 1 {
		t.Errorf("expected one check, got %d", st.checks.Load())
	}
	if resp["is_online"] != true || resp["message"] != "connected" {
		t.Errorf("unexpected status after check: %v", resp)
	}
}

func TestCacheEndpoints(t *testing.T) {
	var calls atomic.Int32
	srv, store := setupServer(t, gradioBackend(t, &calls))
	ctx := context.Background()

	key := "prediction:3:a b/c:{}"
	_ = store.Set(ctx, key, models.PredictionResult{ProcessedValue: 6})
	_ = store.Set(ctx, "prediction:4::{}", models.PredictionResult{ProcessedValue: 8})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	var stats models.CacheStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", stats.Entries)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/cache/"+url.PathEscape(key), nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Error("expected key invalidated")
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if _, ok, _ := store.Get(ctx, "prediction:4::{}"); ok {
		t.Error("expected cache cleared")
	}
}

func TestCacheDisabled(t *testing.T) {
	srv, err := New(config.Default(), stubPredictor{}, &fakeStatus{}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPDFRoute(t *testing.T) {
	var calls atomic.Int32
	srv, _ := setupServer(t, gradioBackend(t, &calls))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pdf/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != float64(404) {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestPassthrough(t *testing.T) {
	var calls atomic.Int32
	srv, _ := setupServer(t, gradioBackend(t, &calls))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/other?x=1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "passthrough" {
		t.Errorf("unexpected body: %q", w.Body.String())
	}
	if w.Header().Get("X-Upstream-Path") != "/api/other" {
		t.Errorf("unexpected upstream path: %q", w.Header().Get("X-Upstream-Path"))
	}
}

func TestPassthroughBackendDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	cfg := config.Default()
	cfg.Backend.BaseURL = upstream.URL
	upstream.Close()

	srv, err := New(cfg, stubPredictor{}, &fakeStatus{}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	cfg := config.Default()
	cfg.Listen = addr
	srv, err := New(cfg, stubPredictor{}, &fakeStatus{}, nil, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/api/status")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

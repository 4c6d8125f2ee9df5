// Package pdf streams documents from the backend's PDF endpoint.
package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pario-ai/predictgate/pkg/config"
)

// Proxy forwards GET /api/pdf/{id} to {backend}{BackendPath}/{id} and
// streams the document back unmodified.
type Proxy struct {
	base       string
	cfg        config.PDFConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithHTTPClient replaces the client used to reach the backend.
func WithHTTPClient(h *http.Client) Option {
	return func(p *Proxy) { p.httpClient = h }
}

// WithLogger sets the proxy logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) { p.logger = l }
}

// NewProxy creates a Proxy for the backend at backendBase.
func NewProxy(cfg config.PDFConfig, backendBase string, opts ...Option) *Proxy {
	if cfg.BackendPath == "" {
		cfg.BackendPath = "/api/pdf-basic"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	p := &Proxy{
		base:       strings.TrimSuffix(backendBase, "/"),
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ServeHTTP expects the document id in the "id" path value.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		h := w.Header()
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	id := r.PathValue("id")
	if !validID(id) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid document id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.Timeout)
	defer cancel()

	target := p.base + p.cfg.BackendPath + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		p.fail(w, r, id, err)
		return
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		accept = "application/pdf"
	}
	req.Header.Set("Accept", accept)
	if lang := r.Header.Get("Accept-Language"); lang != "" {
		req.Header.Set("Accept-Language", lang)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.fail(w, r, id, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.WarnContext(r.Context(), "pdf fetch failed", "id", id, "status", resp.StatusCode)
		writeJSON(w, resp.StatusCode, map[string]any{
			"error":  "failed to fetch PDF",
			"status": resp.StatusCode,
		})
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id+".pdf"))
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(p.cfg.MaxAge.Seconds())))
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.WarnContext(r.Context(), "pdf stream interrupted", "id", id, "error", err)
	}
}

func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, id string, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	p.logger.ErrorContext(r.Context(), "pdf proxy error", "id", id, "error", err)
	writeJSON(w, status, map[string]any{
		"error":   "failed to process request",
		"message": err.Error(),
	})
}

func validID(id string) bool {
	return id != "" && !strings.Contains(id, "/") && !strings.Contains(id, "..")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

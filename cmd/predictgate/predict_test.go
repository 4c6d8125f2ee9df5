package main

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/models"
	"github.com/pario-ai/predictgate/pkg/predict"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"mode=fast", "scale=2.5", "debug=true", "label=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"mode":  "fast",
		"scale": 2.5,
		"debug": true,
		"label": "a=b",
	}, got)
}

func TestParseParamsEmpty(t *testing.T) {
	got, err := parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseParamsInvalid(t *testing.T) {
	for _, in := range []string{"noequals", "=value", "x=NaN", "x=Inf", "x=-infinity"} {
		_, err := parseParams([]string{in})
		assert.Error(t, err, in)
	}
}

func TestFormatOutcome(t *testing.T) {
	out := predict.Outcome{
		Result: models.PredictionResult{ProcessedValue: 6, PredictionText: "six", Message: "ok"},
		Source: predict.SourceBackend,
	}
	s := formatOutcome(out)
	assert.Contains(t, s, "Processed value: 6\n")
	assert.Contains(t, s, "Prediction:      six\n")
	assert.Contains(t, s, "Source:          backend\n")
	assert.Contains(t, s, "Message:         ok\n")

	out.Source = predict.SourceCache
	out.CachedAt = time.Now().Add(-2 * time.Hour)
	assert.Contains(t, formatOutcome(out), "Source:          cache (cached 2 hours ago)")
}

func TestFormatStatus(t *testing.T) {
	s := formatStatus("http://localhost:8000", models.ServerStatus{})
	assert.Contains(t, s, "Last check: never")
	assert.Contains(t, s, "Status:     disconnected")

	s = formatStatus("http://localhost:8000", models.ServerStatus{IsOnline: true, LastCheck: time.Now()})
	assert.Contains(t, s, "Status:     connected")
	assert.Contains(t, s, "now")
}

func TestBuildStackDefaults(t *testing.T) {
	cfg := config.Default()
	s, err := buildStack(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.store, "memory cache enabled by default")
	assert.Nil(t, s.auditor, "audit disabled by default")
	// 4 attempts of 30s plus 1s+2s+4s of backoff.
	assert.Equal(t, 127*time.Second, s.worstCase(cfg.Backend))
}

func TestWorstCaseSaturates(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Enabled = false
	cfg.Backend.MaxRetries = config.MaxRetriesLimit
	cfg.Backend.InitialDelay = time.Duration(math.MaxInt64 / 4)
	s, err := buildStack(cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, time.Duration(math.MaxInt64), s.worstCase(cfg.Backend))
}

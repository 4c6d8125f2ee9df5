package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/models"
)

type predictArgs struct {
	Value  *float64       `json:"value"`
	Text   string         `json:"text"`
	Params map[string]any `json:"params"`
}

type statusArgs struct {
	Refresh bool `json:"refresh"`
}

type auditSearchArgs struct {
	Outcome  string `json:"outcome"`
	Since    string `json:"since"`
	CacheKey string `json:"cache_key"`
	Limit    int    `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"predictgate_predict":      handlePredict,
	"predictgate_status":       handleStatus,
	"predictgate_cache_stats":  handleCacheStats,
	"predictgate_audit_search": handleAuditSearch,
	"predictgate_audit_stats":  handleAuditStats,
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "predictgate_predict",
		Description: "Run a prediction for a numeric value and optional text. Served from cache when a fresh result exists.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"value"},
			"properties": map[string]any{
				"value": map[string]any{
					"type":        "number",
					"description": "Numeric input",
				},
				"text": map[string]any{
					"type":        "string",
					"description": "Text input (optional)",
				},
				"params": map[string]any{
					"type":        "object",
					"description": "Extra parameters; they are part of the cache key and are not sent to the backend (optional)",
				},
			},
		},
	},
	{
		Name:        "predictgate_status",
		Description: "Show whether the prediction backend is reachable and when it was last checked.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"refresh": map[string]any{
					"type":        "boolean",
					"description": "Run a health check now instead of reporting the last known status",
				},
			},
		},
	},
	{
		Name:        "predictgate_cache_stats",
		Description: "Show result cache statistics (entries, stale entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "predictgate_audit_search",
		Description: "Search the prediction audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"outcome": map[string]any{
					"type":        "string",
					"enum":        []string{"backend", "cached", "stale", "error"},
					"description": "Filter by outcome (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"cache_key": map[string]any{
					"type":        "string",
					"description": "Filter by cache key (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max entries (optional, default 50)",
				},
			},
		},
	},
	{
		Name:        "predictgate_audit_stats",
		Description: "Show audit log counts grouped by day and outcome.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handlePredict(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.predictor == nil {
		return textResult("Predictions are not configured.")
	}
	var args predictArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if args.Value == nil {
		return errorResult("value is required")
	}

	out, err := s.predictor.Predict(ctx, models.PredictionRequest{
		Value:  *args.Value,
		Text:   args.Text,
		Params: args.Params,
	})
	if err != nil {
		return errorResult(client.UserMessage(err))
	}
	return textResult(formatOutcome(out))
}

func handleStatus(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.status == nil {
		return textResult("Health monitoring is not configured.")
	}
	var args statusArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Refresh {
		s.status.CheckNow(ctx)
	}
	return textResult(formatStatus(s.status.Status()))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		Outcome:  models.Outcome(args.Outcome),
		CacheKey: args.CacheKey,
		Limit:    args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}

func handleAuditStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	stats, err := s.auditor.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching audit stats: " + err.Error())
	}
	return textResult(formatAuditStats(stats))
}

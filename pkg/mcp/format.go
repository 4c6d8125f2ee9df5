package mcp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/predictgate/pkg/models"
	"github.com/pario-ai/predictgate/pkg/predict"
)

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatOutcome formats a served prediction as text.
func formatOutcome(out predict.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed value: %s\n", formatNumber(out.Result.ProcessedValue))
	fmt.Fprintf(&b, "Prediction:      %s\n", out.Result.PredictionText)
	if out.Source == predict.SourceBackend {
		b.WriteString("Source:          backend\n")
	} else {
		fmt.Fprintf(&b, "Source:          %s (cached %s)\n", out.Source, humanize.Time(out.CachedAt))
	}
	fmt.Fprintf(&b, "Request ID:      %s\n", out.RequestID)
	return b.String()
}

// formatStatus formats backend status as text.
func formatStatus(st models.ServerStatus) string {
	last := "never"
	if !st.LastCheck.IsZero() {
		last = humanize.Time(st.LastCheck)
	}
	return fmt.Sprintf("Backend Status\n"+
		"  Status:     %s\n"+
		"  Last check: %s\n", st.Message(), last)
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Stale:    %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Stale, stats.Hits, stats.Misses, hitRate)
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-8s %10s %-20s %12s %8s %-20s\n",
		"Request ID", "Outcome", "Value", "Text", "Result", "Latency", "Time")
	b.WriteString(strings.Repeat("-", 122) + "\n")
	for _, e := range entries {
		text := e.Text
		if len(text) > 20 {
			text = text[:17] + "..."
		}
		result := formatNumber(e.ProcessedValue)
		if e.Outcome == models.OutcomeError {
			result = e.ErrorKind
		}
		fmt.Fprintf(&b, "%-36s %-8s %10s %-20s %12s %6dms %-20s\n",
			e.RequestID, e.Outcome, formatNumber(e.Value), text, result,
			e.LatencyMs, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// formatAuditStats formats audit counts as a text table.
func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-8s %8s\n", "Day", "Outcome", "Count")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-8s %8d\n", s.Day, s.Outcome, s.Count)
	}
	return b.String()
}

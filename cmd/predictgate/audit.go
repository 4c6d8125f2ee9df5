package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/audit"
	"github.com/pario-ai/predictgate/pkg/models"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the prediction audit log",
	}

	cmd.AddCommand(
		newAuditListCmd(a),
		newAuditShowCmd(a),
		newAuditStatsCmd(a),
		newAuditCleanupCmd(a),
	)
	return cmd
}

func newAuditListCmd(a *app) *cobra.Command {
	var (
		outcome string
		since   string
		key     string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openAuditLogger(a)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			opts := models.AuditQueryOpts{
				Outcome:  models.Outcome(outcome),
				CacheKey: key,
				Limit:    limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			return writeAuditEntries(os.Stdout, entries)
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (backend, cached, stale, error)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&key, "key", "", "filter by cache key")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func newAuditShowCmd(a *app) *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit entry by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, err := openAuditLogger(a)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Printf("Request ID:  %s\n", e.RequestID)
			fmt.Printf("Cache key:   %s\n", e.CacheKey)
			fmt.Printf("Input:       %s %q\n", strconv.FormatFloat(e.Value, 'f', -1, 64), e.Text)
			fmt.Printf("Outcome:     %s\n", e.Outcome)
			if e.Outcome == models.OutcomeError {
				fmt.Printf("Error:       [%s] %s\n", e.ErrorKind, e.ErrorMessage)
			} else {
				fmt.Printf("Result:      %s %q\n", strconv.FormatFloat(e.ProcessedValue, 'f', -1, 64), e.PredictionText)
			}
			fmt.Printf("Latency:     %dms\n", e.LatencyMs)
			fmt.Printf("Time:        %s (%s)\n", e.CreatedAt.Format(time.RFC3339), humanize.Time(e.CreatedAt))
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")
	return cmd
}

func newAuditStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit counts by outcome and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openAuditLogger(a)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			return writeAuditStats(os.Stdout, stats)
		},
	}
}

func newAuditCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Audit.RetentionDays <= 0 {
				fmt.Println("Retention is disabled (audit.retention_days <= 0); nothing deleted.")
				return nil
			}
			l, err := openAuditLogger(a)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %s audit entries.\n", humanize.Comma(deleted))
			return nil
		},
	}
}

func openAuditLogger(a *app) (*audit.Logger, error) {
	l, err := audit.New(a.cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, nil
}

func writeAuditEntries(out io.Writer, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No audit entries found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST ID\tOUTCOME\tVALUE\tTEXT\tRESULT\tLATENCY\tWHEN")
	for _, e := range entries {
		result := strconv.FormatFloat(e.ProcessedValue, 'f', -1, 64)
		if e.Outcome == models.OutcomeError {
			result = e.ErrorKind
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.RequestID, e.Outcome, strconv.FormatFloat(e.Value, 'f', -1, 64),
			e.Text, result, e.LatencyMs, humanize.Time(e.CreatedAt))
	}
	return w.Flush()
}

func writeAuditStats(out io.Writer, stats []models.AuditStat) error {
	if len(stats) == 0 {
		_, err := fmt.Fprintln(out, "No audit stats found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tOUTCOME\tCOUNT")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Day, s.Outcome, humanize.Comma(int64(s.Count)))
	}
	return w.Flush()
}

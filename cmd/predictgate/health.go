package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/health"
	"github.com/pario-ai/predictgate/pkg/models"
)

func newHealthCmd(a *app) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check whether the prediction backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			cl := client.New(cfg.Backend)
			if interval <= 0 {
				interval = cfg.Health.Interval
			}
			mon := health.New(cl.CheckHealth,
				health.WithInterval(interval),
				health.WithTimeout(cfg.Health.Timeout))

			if !watch {
				online := mon.CheckNow(context.Background())
				fmt.Print(formatStatus(cfg.Backend.HealthBase(), mon.Status()))
				if !online {
					return fmt.Errorf("backend offline")
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			unsubscribe := mon.Subscribe(func(s models.ServerStatus) {
				fmt.Printf("%s  %s\n", s.LastCheck.Format("15:04:05"), s.Message())
			})
			defer unsubscribe()

			mon.Start(ctx)
			<-ctx.Done()
			mon.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "polling interval for --watch (defaults to health.interval)")
	return cmd
}

func formatStatus(url string, s models.ServerStatus) string {
	last := "never"
	if !s.LastCheck.IsZero() {
		last = humanize.Time(s.LastCheck)
	}
	return fmt.Sprintf("Backend:    %s\nStatus:     %s\nLast check: %s\n", url, s.Message(), last)
}

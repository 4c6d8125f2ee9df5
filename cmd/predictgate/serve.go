package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/predictgate/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if listen != "" {
				cfg.Listen = listen
			}

			st, err := buildStack(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := server.New(cfg, st.service, st.monitor, st.store,
				server.WithLogger(slog.Default().With("component", "server")))
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("starting predictgate",
				"config", a.configPath,
				"cache", cfg.Cache.Enabled,
				"cache_backend", cfg.Cache.Backend,
				"audit", cfg.Audit.Enabled)

			eg, ctx := errgroup.WithContext(ctx)
			if cfg.Health.Enabled {
				eg.Go(func() error {
					st.monitor.Start(ctx)
					<-ctx.Done()
					st.monitor.Stop()
					return nil
				})
			}
			eg.Go(func() error {
				return srv.ListenAndServe(ctx)
			})
			return eg.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

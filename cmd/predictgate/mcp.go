package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve predictgate tools to an MCP client over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(a.cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.Health.Enabled {
				s.monitor.Start(ctx)
				defer s.monitor.Stop()
			}

			var auditor mcp.AuditReader
			if s.auditor != nil {
				auditor = s.auditor
			}
			srv := mcp.New(s.service, s.monitor, s.store, auditor, version)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}

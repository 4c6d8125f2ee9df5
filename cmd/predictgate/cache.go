package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/cache"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(a)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %s\nStale:   %s\nTTL:     %s\n",
				humanize.Comma(stats.Entries), humanize.Comma(stats.Stale), a.cfg.Cache.TTL)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(a)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx := context.Background()
			if expiredOnly {
				n, err := c.Prune(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %s expired cache entries.\n", humanize.Comma(n))
				return nil
			}
			if err := c.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("All cache entries cleared.")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear entries older than the TTL")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openCache(a *app) (cache.Store, error) {
	if a.cfg.Cache.Backend != "sqlite" {
		return nil, errSQLiteOnly
	}
	return cache.New(a.cfg.Cache, a.cfg.DBPath)
}

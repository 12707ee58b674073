package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"intake/internal/api"
	"intake/internal/backlog"
	"intake/internal/lease"
)

func newDBCommand(ctx *commandContext) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Backlog database maintenance",
	}
	dbCmd.AddCommand(newDBHealthCommand(ctx))
	dbCmd.AddCommand(newDBReclaimCommand(ctx))
	return dbCmd
}

func newDBHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database schema and integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *backlog.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				counts := api.MergeStats(stats)
				err = emit(cmd, ctx, struct {
					Database api.DatabaseHealth `json:"database"`
					Counts   map[string]int     `json:"counts"`
				}{api.FromDatabaseHealth(health), counts}, func() *report { return databaseReport(health, counts) })
				if err != nil {
					return err
				}
				if !health.Healthy() {
					return fmt.Errorf("database unhealthy: %s", health.Error)
				}
				return nil
			})
		},
	}
}

func newDBReclaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Mark expired leases available",
		Long: "Mark items whose lease has expired as available. Expired leases " +
			"are already acquirable; this only tidies the stored status.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *backlog.Store) error {
				manager := lease.NewManager(store, cfg.LeaseTTL())
				count, err := manager.ReclaimExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d expired leases\n", count)
				return nil
			})
		},
	}
}

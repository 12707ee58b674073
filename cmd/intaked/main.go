// Command intaked serves the lease API over the backlog database.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"intake/internal/backlog"
	"intake/internal/config"
	"intake/internal/daemon"
	"intake/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "intaked",
		Short:         "Serve the intake lease API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg, "intaked")
			if err != nil {
				log.Fatalf("init logger: %v", err)
			}
			return run(cmd.Context(), cfg, logger, nil)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	return cmd
}

// run serves until ctx is done. ready, when set, observes the started daemon.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(daemon.Status)) error {
	store, err := backlog.Open(cfg)
	if err != nil {
		return fmt.Errorf("open backlog: %w", err)
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}
	if ready != nil {
		ready(d.Status())
	}

	<-ctx.Done()
	logger.Info("intaked shutting down")
	return nil
}

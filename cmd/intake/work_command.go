package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"intake/internal/agent"
	"intake/internal/console"
	"intake/internal/logging"
)

// shutdownGrace bounds how long the console waits for its release beacon
// before the process exits.
const shutdownGrace = 2 * time.Second

func newWorkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Open the interactive operator console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}

			// The console owns the terminal, so logs only go to a file.
			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      "json",
				OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "console.log")},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			notices := console.NewNotices()
			worker := agent.New(cli,
				agent.WithRenewInterval(cfg.RenewInterval()),
				agent.WithNotifier(notices),
				agent.WithLogger(logger.With(logging.Holder(cli.Holder()))),
			)
			defer func() {
				select {
				case <-worker.Close():
				case <-time.After(shutdownGrace):
					logger.Warn("release beacon still in flight at exit; lease will expire")
				}
			}()

			model := console.New(cmd.Context(), worker, cli, notices.C())
			return console.Run(cmd.Context(), model)
		},
	}
}

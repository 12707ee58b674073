package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"intake/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines   int
		follow  bool
		console bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		Long: "Print the tail of <log_dir>/intaked.log, or the operator console " +
			"log with --console. Reads the file directly, so run it on the host that wrote it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := "intaked.log"
			if console {
				name = "console.log"
			}
			path := filepath.Join(cfg.Paths.LogDir, name)

			out := cmd.OutOrStdout()
			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, logs.DefaultPoll, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&console, "console", false, "Read the operator console log instead")
	return cmd
}

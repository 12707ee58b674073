package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"intake/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, operator identity, and server reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			results = append(results,
				preflight.CheckHolderFromConfig(cfg),
				preflight.CheckServerFromConfig(cmd.Context(), cfg),
			)

			out := cmd.OutOrStdout()
			if err := preflightReport(results).write(out, colorEnabled(out)); err != nil {
				return err
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d checks failed", len(failed))
			}
			return nil
		},
	}
}

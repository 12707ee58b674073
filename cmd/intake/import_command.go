package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"intake/internal/backlog"
	"intake/internal/manifest"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <manifest.yaml>",
		Short: "Add work items from a YAML manifest",
		Long: "Add work items from a YAML manifest to the backlog database. " +
			"Runs against the database directly, so use it on the server host.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintln(out, manifestTable(items))
				fmt.Fprintf(out, "%d items parsed (dry run, nothing written)\n", len(items))
				return nil
			}
			return ctx.withStore(func(store *backlog.Store) error {
				count, err := manifest.Import(cmd.Context(), store, items)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Imported %d items\n", count)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and print without writing")
	return cmd
}

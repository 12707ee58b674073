package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"intake/internal/api"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions with occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			names, err := cli.Sessions(cmd.Context())
			if err != nil {
				return ctx.wrapClientError(err)
			}
			statuses := make([]api.SessionStatus, 0, len(names))
			for _, name := range names {
				status, err := cli.Status(cmd.Context(), name)
				if err != nil {
					return ctx.wrapClientError(err)
				}
				statuses = append(statuses, status)
			}

			if ctx.jsonOutput() {
				return emitJSON(cmd, statuses)
			}
			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No sessions")
				return nil
			}
			fmt.Fprintln(out, sessionsTable(statuses))
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session>",
		Short: "Show occupancy for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			status, err := cli.Status(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return emit(cmd, ctx, status, func() *report { return sessionReport(status) })
		},
	}
}

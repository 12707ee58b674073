package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"intake/internal/api"
	"intake/internal/client"
	"intake/internal/lease"
	"intake/internal/submission"
)

func newLeaseCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newNextCommand(ctx),
		newRenewCommand(ctx),
		newReleaseCommand(ctx),
		newSkipCommand(ctx),
		newSubmitCommand(ctx),
		newURLCommand(ctx),
		newShowCommand(ctx),
	}
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

func newNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next [session]",
		Short: "Lease the next item in a session",
		Long: "Lease the next item in a session. Without an argument the " +
			"[operator].default_session is used. The lease is not renewed; use " +
			"`intake work` for an interactive session with heartbeats.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := ""
			if len(args) == 1 {
				session = strings.TrimSpace(args[0])
			} else if cfg := ctx.configValue(); cfg != nil {
				session = cfg.Operator.DefaultSession
			}
			if session == "" {
				return errors.New("session is required (argument or [operator].default_session)")
			}

			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			item, err := cli.AcquireNext(cmd.Context(), session)
			if errors.Is(err, lease.ErrNotFound) {
				var remote *client.RemoteError
				if errors.As(err, &remote) && len(remote.SuggestedSessions()) > 0 {
					return fmt.Errorf("no item available in %q; sessions with work: %s",
						session, strings.Join(remote.SuggestedSessions(), ", "))
				}
				return fmt.Errorf("no item available in %q; see `intake status %s`", session, session)
			}
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return printItem(cmd, ctx, item, nil)
		},
	}
}

func newRenewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "renew <id>",
		Short: "Extend your lease on an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			renewal, err := cli.Renew(cmd.Context(), id)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			if ctx.jsonOutput() {
				return emitJSON(cmd, renewal)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %d renewed at %s\n", id, localTime(renewal.RenewedAt))
			return nil
		},
	}
}

func newReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Give up your lease on an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			if err := cli.Release(cmd.Context(), id); err != nil {
				return ctx.wrapClientError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %d released\n", id)
			return nil
		},
	}
}

func newSkipCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <id>",
		Short: "Return a leased item to the back of its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			if err := cli.Skip(cmd.Context(), id); err != nil {
				return ctx.wrapClientError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %d skipped\n", id)
			return nil
		},
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		payloadFile string
		title       string
		price       string
		rawURL      string
		note        string
		location    string
		batchCode   string
		qa          string
		images      []string
	)

	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Commit enrichment for a leased item",
		Long: "Commit enrichment for a leased item. Fields come from --file (JSON) " +
			"with flags overriding individual values.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}

			var payload submission.Payload
			if payloadFile != "" {
				if payload, err = readPayload(cmd.InOrStdin(), payloadFile); err != nil {
					return err
				}
			}
			flags := cmd.Flags()
			setString := func(name string, dst *string, value string) {
				if flags.Changed(name) {
					*dst = value
				}
			}
			setString("title", &payload.Title, title)
			setString("url", &payload.URL, rawURL)
			setString("note", &payload.Note, note)
			setString("location", &payload.Location, location)
			setString("batch-code", &payload.BatchCode, batchCode)
			setString("qa", &payload.QA, qa)
			if flags.Changed("price") {
				parsed, err := decimal.NewFromString(strings.TrimSpace(price))
				if err != nil {
					return fmt.Errorf("invalid --price %q", price)
				}
				payload.Price = parsed
			}
			if flags.Changed("image") {
				payload.Images = images
			}

			payload.Normalize()
			if err := payload.Validate(); err != nil {
				return err
			}

			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			item, err := cli.Submit(cmd.Context(), id, payload)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			if ctx.jsonOutput() {
				return emitJSON(cmd, item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Item %d (%s) completed\n", item.ID, item.Label)
			return nil
		},
	}

	cmd.Flags().StringVarP(&payloadFile, "file", "f", "", "JSON payload file (- for stdin)")
	cmd.Flags().StringVar(&title, "title", "", "Record title")
	cmd.Flags().StringVar(&price, "price", "", "Price as a decimal")
	cmd.Flags().StringVar(&rawURL, "url", "", "Source URL")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note")
	cmd.Flags().StringVar(&location, "location", "", "Storage location")
	cmd.Flags().StringVar(&batchCode, "batch-code", "", "Batch code")
	cmd.Flags().StringVar(&qa, "qa", "", "Inspector")
	cmd.Flags().StringArrayVar(&images, "image", nil, "Image reference (repeatable; defaults to the item's stored images)")
	return cmd
}

func readPayload(stdin io.Reader, path string) (submission.Payload, error) {
	var (
		payload submission.Payload
		data    []byte
		err     error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return payload, fmt.Errorf("read payload: %w", err)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func newURLCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "url <id> <url>",
		Short: "Change the source URL of a leased item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			item, err := cli.UpdateURL(cmd.Context(), id, strings.TrimSpace(args[1]))
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return printItem(cmd, ctx, item, nil)
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item and its images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			cli, err := ctx.newClient()
			if err != nil {
				return err
			}
			item, err := cli.Item(cmd.Context(), id)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			assets, err := cli.Assets(cmd.Context(), id)
			if err != nil {
				return ctx.wrapClientError(err)
			}
			return printItem(cmd, ctx, item, assets)
		},
	}
}

func printItem(cmd *cobra.Command, ctx *commandContext, item *api.Item, assets []api.Asset) error {
	return emit(cmd, ctx, struct {
		Item   *api.Item   `json:"item"`
		Assets []api.Asset `json:"assets,omitempty"`
	}{item, assets}, func() *report { return itemReport(item, assets) })
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"intake/internal/api"
	"intake/internal/backlog"
	"intake/internal/preflight"
)

// tone marks how a fact reads at a glance.
type tone int

const (
	plain tone = iota
	good
	caution
	bad
)

func (t tone) tag() string {
	switch t {
	case good:
		return "[ok]"
	case caution:
		return "[warn]"
	case bad:
		return "[fail]"
	}
	return ""
}

func (t tone) colors() text.Colors {
	switch t {
	case good:
		return text.Colors{text.FgGreen}
	case caution:
		return text.Colors{text.FgYellow}
	case bad:
		return text.Colors{text.FgRed, text.Bold}
	}
	return nil
}

type fact struct {
	label string
	value string
	tone  tone
}

// report is a titled list of facts about one subject (an item, a session,
// the database), optionally followed by a table.
type report struct {
	title  string
	facts  []fact
	tables []string
}

func (r *report) add(label, value string) {
	if value == "" {
		return
	}
	r.facts = append(r.facts, fact{label: label, value: value})
}

func (r *report) flag(label, value string, t tone) {
	r.facts = append(r.facts, fact{label: label, value: value, tone: t})
}

func (r *report) attach(rendered string) {
	if rendered != "" {
		r.tables = append(r.tables, rendered)
	}
}

func (r *report) write(w io.Writer, color bool) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options = table.OptionsNoBordersAndSeparators
	if r.title != "" {
		tw.SetTitle(r.title)
		tw.Style().Title.Align = text.AlignLeft
		if color {
			tw.Style().Title.Colors = text.Colors{text.FgCyan, text.Bold}
		}
	}
	for _, f := range r.facts {
		value := f.value
		if tag := f.tone.tag(); tag != "" {
			value = tag + " " + value
		}
		if color && f.tone != plain {
			value = f.tone.colors().Sprint(value)
		}
		tw.AppendRow(table.Row{f.label, value})
	}
	if color {
		tw.SetColumnConfigs([]table.ColumnConfig{{Number: 1, Colors: text.Colors{text.Faint}}})
	}
	if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
		return err
	}
	for _, t := range r.tables {
		if _, err := fmt.Fprintln(w, t); err != nil {
			return err
		}
	}
	return nil
}

// emit writes v as JSON under --json, otherwise the report built by render.
func emit(cmd *cobra.Command, ctx *commandContext, v any, render func() *report) error {
	if ctx.jsonOutput() {
		return emitJSON(cmd, v)
	}
	out := cmd.OutOrStdout()
	return render().write(out, colorEnabled(out))
}

func emitJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}

func colorEnabled(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func itemReport(item *api.Item, assets []api.Asset) *report {
	r := &report{title: fmt.Sprintf("Item %d  %s", item.ID, item.Label)}
	switch item.Status {
	case string(backlog.StatusCompleted):
		r.flag("Status", item.Status, good)
	case string(backlog.StatusLeased):
		r.flag("Status", item.Status, caution)
	default:
		r.flag("Status", item.Status, plain)
	}
	r.add("Session", item.Session)
	r.add("Number", item.Number)
	r.add("SKU", item.SKU)
	r.add("URL", item.URL)
	r.add("Location", item.Location)
	r.add("Note", item.Note)
	r.add("Holder", item.LeaseHolder)
	r.add("Leased at", localTime(item.LeasedAt))
	r.add("Renewed at", localTime(item.RenewedAt))
	r.add("Completed by", item.CompletedBy)
	if item.SkipCount > 0 {
		r.add("Skipped", fmt.Sprintf("%d times", item.SkipCount))
	}
	r.attach(assetsTable(assets))
	return r
}

// sessionReport shows one session's occupancy. A fully leased session is a
// warning, a finished one plain.
func sessionReport(status api.SessionStatus) *report {
	r := &report{title: status.Session}
	r.add("Total", strconv.Itoa(status.Total))
	r.add("Completed", strconv.Itoa(status.Completed))
	r.add("Leased", strconv.Itoa(status.Locked))
	switch {
	case status.Available > 0:
		r.flag("Available", strconv.Itoa(status.Available), good)
	case status.Locked > 0:
		msg := "0 (all remaining items are leased)"
		if free := localTime(status.NextFreeAt); free != "" {
			msg = fmt.Sprintf("0 (next lease can lapse at %s)", free)
		}
		r.flag("Available", msg, caution)
	default:
		r.flag("Available", "0 (session complete)", plain)
	}
	return r
}

func preflightReport(results []preflight.Result) *report {
	r := &report{title: "Preflight"}
	for _, res := range results {
		t := good
		if !res.Passed {
			t = bad
		}
		r.flag(res.Name, res.Detail, t)
	}
	return r
}

func databaseReport(health backlog.DatabaseHealth, counts map[string]int) *report {
	r := &report{title: "Database"}
	r.add("Path", health.DBPath)
	r.flag("Readable", yesNo(health.DatabaseReadable), passFail(health.DatabaseReadable))
	r.add("Schema version", strconv.Itoa(health.SchemaVersion))
	r.flag("Integrity", yesNo(health.IntegrityCheck), passFail(health.IntegrityCheck))
	if len(health.MissingColumns) > 0 {
		r.flag("Missing columns", fmt.Sprint(health.MissingColumns), bad)
	}
	r.attach(backlogCountsTable(counts, health.TotalItems))
	return r
}

func passFail(ok bool) tone {
	if ok {
		return good
	}
	return bad
}

func newBoxTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	return tw
}

func rightAligned(names ...string) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, 0, len(names))
	for _, name := range names {
		configs = append(configs, table.ColumnConfig{Name: name, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	return configs
}

// sessionsTable lists every session with a totals footer.
func sessionsTable(statuses []api.SessionStatus) string {
	tw := newBoxTable(table.Row{"Session", "Total", "Done", "Leased", "Available", "Next free"})
	var total, done, leased, available int
	for _, s := range statuses {
		tw.AppendRow(table.Row{s.Session, s.Total, s.Completed, s.Locked, s.Available, localTime(s.NextFreeAt)})
		total += s.Total
		done += s.Completed
		leased += s.Locked
		available += s.Available
	}
	if len(statuses) > 1 {
		tw.AppendFooter(table.Row{fmt.Sprintf("%d sessions", len(statuses)), total, done, leased, available, ""})
	}
	tw.SetColumnConfigs(rightAligned("Total", "Done", "Leased", "Available"))
	return tw.Render()
}

func assetsTable(assets []api.Asset) string {
	if len(assets) == 0 {
		return ""
	}
	tw := newBoxTable(table.Row{"Image", "Ref", "Bytes"})
	var size int64
	for _, a := range assets {
		tw.AppendRow(table.Row{a.Name, a.Ref, a.Size})
		size += a.Size
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d images", len(assets)), "", size})
	tw.SetColumnConfigs(rightAligned("Bytes"))
	return tw.Render()
}

// manifestTable previews parsed manifest entries grouped by session.
func manifestTable(items []backlog.NewItem) string {
	tw := newBoxTable(table.Row{"Session", "Label", "Number", "SKU"})
	for _, item := range items {
		tw.AppendRow(table.Row{item.Session, item.Label, item.Number, item.SKU})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Name: "Session", AutoMerge: true}})
	return tw.Render()
}

func backlogCountsTable(counts map[string]int, total int) string {
	tw := newBoxTable(table.Row{"Available", "Leased", "Completed", "Total"})
	tw.AppendRow(table.Row{
		counts[string(backlog.StatusAvailable)],
		counts[string(backlog.StatusLeased)],
		counts[string(backlog.StatusCompleted)],
		total,
	})
	tw.SetColumnConfigs(rightAligned("Available", "Leased", "Completed", "Total"))
	return tw.Render()
}

// localTime renders an API timestamp in local time. Unparsable values pass
// through unchanged.
func localTime(value string) string {
	ts, err := api.ParseTime(value)
	if err != nil || ts == nil {
		return value
	}
	return ts.Local().Format(time.DateTime)
}

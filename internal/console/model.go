// Package console is the interactive operator screen. It drives an
// agent.Agent: pick a session, work the leased item, submit or skip, and
// move on. Lease loss is shown as a blocking notice that discards the form.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"intake/internal/agent"
	"intake/internal/api"
	"intake/internal/submission"
)

// Worker is the lease holder the console drives. *agent.Agent satisfies it.
type Worker interface {
	Next(ctx context.Context, session string) (*api.Item, error)
	Submit(ctx context.Context, payload submission.Payload) (*api.Item, error)
	Skip(ctx context.Context) (*api.Item, error)
	Release(ctx context.Context) error
	Reset(ctx context.Context)
	State() agent.State
	LastRenewal() time.Time
}

// Directory answers read-only questions about the backlog.
type Directory interface {
	Sessions(ctx context.Context) ([]string, error)
	Assets(ctx context.Context, id int64) ([]api.Asset, error)
}

// ViewMode is the screen currently shown.
type ViewMode int

const (
	ViewSessions ViewMode = iota
	ViewRecord
	ViewExhausted
	ViewLost
)

// LeaseLostMsg reports a lost lease to the program.
type LeaseLostMsg struct {
	Item  api.Item
	Cause error
}

type sessionsLoadedMsg struct {
	sessions []string
	err      error
}

type leasedMsg struct {
	item *api.Item
	err  error
}

type assetsLoadedMsg struct {
	id     int64
	assets []api.Asset
	err    error
}

type submittedMsg struct {
	item *api.Item
	err  error
}

type releasedMsg struct{}

type resetDoneMsg struct{}

type tickMsg time.Time

const (
	fieldTitle = iota
	fieldPrice
	fieldURL
	fieldNote
	fieldLocation
	fieldCount
)

var fieldLabels = [fieldCount]string{"Title", "Price", "URL", "Note", "Location"}

// Model is the root Bubble Tea model.
type Model struct {
	ctx     context.Context
	worker  Worker
	dir     Directory
	notices <-chan LeaseLostMsg

	width  int
	height int

	viewMode ViewMode
	keys     KeyMap
	help     help.Model
	spinner  spinner.Model
	busy     bool

	sessions    []string
	selected    int
	session     string
	item        *api.Item
	assets      []api.Asset
	inputs      [fieldCount]textinput.Model
	focus       int
	fieldErrors map[string]string

	exhausted error
	lost      *LeaseLostMsg
	status    string
	err       error
	completed int
}

// New builds the console model. notices carries lease-loss events from the
// agent's notifier; it may be nil.
func New(ctx context.Context, worker Worker, dir Directory, notices <-chan LeaseLostMsg) Model {
	m := Model{
		ctx:     ctx,
		worker:  worker,
		dir:     dir,
		notices: notices,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	for i := range m.inputs {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = 512
		in.Placeholder = strings.ToLower(fieldLabels[i])
		m.inputs[i] = in
	}
	m.inputs[fieldPrice].Placeholder = "0.00"
	return m
}

// Init loads the session list and starts background listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadSessionsCmd(),
		waitForLoss(m.notices),
		tickCmd(),
		m.spinner.Tick,
	)
}

func (m Model) loadSessionsCmd() tea.Cmd {
	ctx, dir := m.ctx, m.dir
	return func() tea.Msg {
		sessions, err := dir.Sessions(ctx)
		return sessionsLoadedMsg{sessions: sessions, err: err}
	}
}

func (m Model) nextCmd(session string) tea.Cmd {
	ctx, worker := m.ctx, m.worker
	return func() tea.Msg {
		item, err := worker.Next(ctx, session)
		return leasedMsg{item: item, err: err}
	}
}

func (m Model) skipCmd() tea.Cmd {
	ctx, worker := m.ctx, m.worker
	return func() tea.Msg {
		item, err := worker.Skip(ctx)
		return leasedMsg{item: item, err: err}
	}
}

func (m Model) submitCmd(payload submission.Payload) tea.Cmd {
	ctx, worker := m.ctx, m.worker
	return func() tea.Msg {
		item, err := worker.Submit(ctx, payload)
		return submittedMsg{item: item, err: err}
	}
}

func (m Model) releaseCmd() tea.Cmd {
	ctx, worker := m.ctx, m.worker
	return func() tea.Msg {
		_ = worker.Release(ctx)
		return releasedMsg{}
	}
}

func (m Model) resetCmd() tea.Cmd {
	ctx, worker := m.ctx, m.worker
	return func() tea.Msg {
		worker.Reset(ctx)
		return resetDoneMsg{}
	}
}

func (m Model) loadAssetsCmd(id int64) tea.Cmd {
	ctx, dir := m.ctx, m.dir
	return func() tea.Msg {
		assets, err := dir.Assets(ctx, id)
		return assetsLoadedMsg{id: id, assets: assets, err: err}
	}
}

func waitForLoss(notices <-chan LeaseLostMsg) tea.Cmd {
	if notices == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-notices
		if !ok {
			return nil
		}
		return msg
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		for i := range m.inputs {
			m.inputs[i].Width = max(10, msg.Width-20)
		}
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionsLoadedMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.sessions = msg.sessions
		if m.selected >= len(m.sessions) {
			m.selected = 0
		}
		return m, nil

	case leasedMsg:
		return m.handleLeased(msg)

	case assetsLoadedMsg:
		if m.item != nil && m.item.ID == msg.id && msg.err == nil {
			m.assets = msg.assets
		}
		return m, nil

	case submittedMsg:
		return m.handleSubmitted(msg)

	case releasedMsg:
		m.busy = false
		m.clearItem()
		m.viewMode = ViewSessions
		return m, m.loadSessionsCmd()

	case LeaseLostMsg:
		lost := msg
		m.lost = &lost
		m.busy = false
		m.clearItem()
		m.viewMode = ViewLost
		return m, waitForLoss(m.notices)

	case resetDoneMsg:
		m.busy = false
		m.lost = nil
		m.err = nil
		m.viewMode = ViewSessions
		return m, m.loadSessionsCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleLeased(msg leasedMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	if msg.err != nil {
		if errors.Is(msg.err, agent.ErrLeaseLost) {
			m.viewMode = ViewLost
			return m, nil
		}
		if isExhausted(msg.err) {
			m.clearItem()
			m.exhausted = msg.err
			m.viewMode = ViewExhausted
			return m, nil
		}
		m.err = msg.err
		return m, nil
	}
	m.err = nil
	m.exhausted = nil
	m.loadItem(msg.item)
	m.viewMode = ViewRecord
	return m, tea.Batch(m.inputs[fieldTitle].Focus(), m.loadAssetsCmd(msg.item.ID))
}

func (m Model) handleSubmitted(msg submittedMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	if msg.err != nil {
		var verr *submission.ValidationError
		switch {
		case errors.As(msg.err, &verr):
			m.fieldErrors = fieldErrorMap(verr)
			m.err = nil
		case errors.Is(msg.err, agent.ErrLeaseLost):
			m.viewMode = ViewLost
		default:
			m.err = msg.err
		}
		return m, nil
	}
	m.completed++
	m.status = fmt.Sprintf("Saved %s", itemLabel(msg.item))
	m.busy = true
	return m, m.nextCmd(m.session)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if m.busy {
		return m, nil
	}

	switch m.viewMode {
	case ViewSessions:
		switch {
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.sessions)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Retry):
			m.busy = true
			return m, m.loadSessionsCmd()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Enter):
			if len(m.sessions) == 0 {
				return m, nil
			}
			m.session = m.sessions[m.selected]
			m.busy = true
			return m, m.nextCmd(m.session)
		}
		return m, nil

	case ViewExhausted:
		switch {
		case key.Matches(msg, m.keys.Retry):
			m.busy = true
			return m, m.nextCmd(m.session)
		case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.Enter):
			m.viewMode = ViewSessions
			m.exhausted = nil
			return m, m.loadSessionsCmd()
		}
		return m, nil

	case ViewLost:
		if key.Matches(msg, m.keys.Enter) {
			m.busy = true
			return m, m.resetCmd()
		}
		return m, nil

	case ViewRecord:
		switch {
		case key.Matches(msg, m.keys.Submit):
			payload, err := m.payload()
			if err != nil {
				var verr *submission.ValidationError
				if errors.As(err, &verr) {
					m.fieldErrors = fieldErrorMap(verr)
				}
				return m, nil
			}
			m.fieldErrors = nil
			m.busy = true
			return m, m.submitCmd(payload)
		case key.Matches(msg, m.keys.Skip):
			m.busy = true
			return m, m.skipCmd()
		case key.Matches(msg, m.keys.Next):
			m.busy = true
			return m, m.nextCmd(m.session)
		case key.Matches(msg, m.keys.Back):
			m.busy = true
			return m, m.releaseCmd()
		case key.Matches(msg, m.keys.NextField):
			return m, m.setFocus((m.focus + 1) % fieldCount)
		case key.Matches(msg, m.keys.PrevField):
			return m, m.setFocus((m.focus + fieldCount - 1) % fieldCount)
		}
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) setFocus(i int) tea.Cmd {
	m.inputs[m.focus].Blur()
	m.focus = i
	return m.inputs[i].Focus()
}

func (m *Model) loadItem(item *api.Item) {
	m.item = item
	m.assets = nil
	m.fieldErrors = nil
	for i := range m.inputs {
		m.inputs[i].Blur()
		m.inputs[i].SetValue("")
	}
	m.inputs[fieldURL].SetValue(item.URL)
	m.inputs[fieldNote].SetValue(item.Note)
	m.inputs[fieldLocation].SetValue(item.Location)
	m.focus = fieldTitle
}

func (m *Model) clearItem() {
	m.item = nil
	m.assets = nil
	m.fieldErrors = nil
	for i := range m.inputs {
		m.inputs[i].Blur()
		m.inputs[i].SetValue("")
	}
}

// payload builds a submission from the form, checking it locally first.
func (m Model) payload() (submission.Payload, error) {
	p := submission.Payload{
		Title:    m.inputs[fieldTitle].Value(),
		URL:      m.inputs[fieldURL].Value(),
		Note:     m.inputs[fieldNote].Value(),
		Location: m.inputs[fieldLocation].Value(),
	}
	if raw := strings.TrimSpace(m.inputs[fieldPrice].Value()); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return p, &submission.ValidationError{Fields: []submission.FieldError{{Field: "price", Message: "is not a number"}}}
		}
		p.Price = price
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func fieldErrorMap(verr *submission.ValidationError) map[string]string {
	out := make(map[string]string, len(verr.Fields))
	for _, f := range verr.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func isExhausted(err error) bool {
	var (
		empty  *agent.ExhaustedEmpty
		others *agent.ExhaustedTryOthers
		locked *agent.ExhaustedLocked
	)
	return errors.As(err, &empty) || errors.As(err, &others) || errors.As(err, &locked)
}

func itemLabel(item *api.Item) string {
	if item == nil {
		return "item"
	}
	if item.Label != "" {
		return item.Label
	}
	return fmt.Sprintf("#%d", item.ID)
}

// View renders the current screen.
func (m Model) View() string {
	var body string
	switch m.viewMode {
	case ViewRecord:
		body = m.viewRecord()
	case ViewExhausted:
		body = m.viewExhausted()
	case ViewLost:
		body = m.viewLost()
	default:
		body = m.viewSessions()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("intake"),
		body,
		m.statusBar(),
		m.help.View(m.keys),
	)
}

func (m Model) viewSessions() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sessions"))
	b.WriteString("\n")
	if len(m.sessions) == 0 {
		b.WriteString(dimStyle.Render("No sessions. Press r to refresh."))
	}
	for i, s := range m.sessions {
		if i == m.selected {
			b.WriteString(selectedStyle.Render("❯ " + s))
		} else {
			b.WriteString("  " + s)
		}
		b.WriteString("\n")
	}
	return panelStyle.Render(b.String())
}

func (m Model) viewRecord() string {
	if m.item == nil {
		return panelStyle.Render(dimStyle.Render("No item leased."))
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s", m.session, itemLabel(m.item))))
	b.WriteString("\n")
	b.WriteString(row("Number", m.item.Number))
	b.WriteString(row("SKU", m.item.SKU))
	b.WriteString(row("Inspected", m.item.InspectedAt))
	if m.item.SkipCount > 0 {
		b.WriteString(row("Skipped", fmt.Sprintf("%d times", m.item.SkipCount)))
	}
	b.WriteString(row("Images", fmt.Sprintf("%d", len(m.assets))))
	b.WriteString("\n")
	for i := range m.inputs {
		label := labelStyle.Render(fieldLabels[i])
		b.WriteString(label + m.inputs[i].View())
		if msg, ok := m.fieldErrors[strings.ToLower(fieldLabels[i])]; ok {
			b.WriteString("  " + errorStyle.Render(msg))
		}
		b.WriteString("\n")
	}
	return panelStyle.Render(b.String())
}

func row(label, value string) string {
	if value == "" {
		value = "-"
	}
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}

func (m Model) viewExhausted() string {
	var (
		others *agent.ExhaustedTryOthers
		locked *agent.ExhaustedLocked
		text   string
	)
	switch {
	case errors.As(m.exhausted, &others):
		text = fmt.Sprintf("Everything left in %s is being worked on.\nTry: %s", m.session, strings.Join(others.Sessions, ", "))
	case errors.As(m.exhausted, &locked):
		text = fmt.Sprintf("Everything left in %s is leased.", m.session)
		if locked.NextFreeAt != nil {
			text += fmt.Sprintf("\nCheck back after %s.", locked.NextFreeAt.Local().Format(time.Kitchen))
		}
	default:
		text = fmt.Sprintf("%s is complete.", m.session)
	}
	return panelStyle.Render(warningStyle.Render(text) + "\n\n" + dimStyle.Render("r retry · esc sessions"))
}

func (m Model) viewLost() string {
	text := "The lease on this item was lost. Unsaved edits were discarded."
	if m.lost != nil && m.lost.Cause != nil {
		text += "\n" + dimStyle.Render(m.lost.Cause.Error())
	}
	return noticeStyle.Render(errorStyle.Render(text) + "\n\n" + "Press enter to continue.")
}

func (m Model) statusBar() string {
	parts := []string{}
	if m.busy {
		parts = append(parts, m.spinner.View())
	}
	if m.worker != nil {
		parts = append(parts, m.worker.State().String())
		if m.item != nil {
			if renewed := m.worker.LastRenewal(); !renewed.IsZero() {
				parts = append(parts, fmt.Sprintf("renewed %s ago", time.Since(renewed).Truncate(time.Second)))
			}
		}
	}
	if m.completed > 0 {
		parts = append(parts, successStyle.Render(fmt.Sprintf("%d saved", m.completed)))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render(m.err.Error()))
	}
	return statusBarStyle.Render(strings.Join(parts, " · "))
}

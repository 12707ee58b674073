package console

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"intake/internal/api"
)

// Notices bridges agent lease-loss callbacks into the program. It implements
// agent.Notifier.
type Notices struct {
	ch chan LeaseLostMsg
}

// NewNotices builds an empty notice channel.
func NewNotices() *Notices {
	return &Notices{ch: make(chan LeaseLostMsg, 4)}
}

// LeaseLost queues a notice. It never blocks; a full queue drops the notice
// since the console already shows one.
func (n *Notices) LeaseLost(item api.Item, cause error) {
	select {
	case n.ch <- LeaseLostMsg{Item: item, Cause: cause}:
	default:
	}
}

// C returns the receive side for New.
func (n *Notices) C() <-chan LeaseLostMsg { return n.ch }

// Run shows the console until the operator quits or ctx is cancelled.
func Run(ctx context.Context, m Model) error {
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}

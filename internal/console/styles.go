package console

import "github.com/charmbracelet/lipgloss"

var (
	colorFgPrimary = lipgloss.Color("#ABB2BF")
	colorFgMuted   = lipgloss.Color("#636B78")
	colorRed       = lipgloss.Color("#E06C75")
	colorGreen     = lipgloss.Color("#98C379")
	colorYellow    = lipgloss.Color("#E5C07B")
	colorBlue      = lipgloss.Color("#61AFEF")
	colorMagenta   = lipgloss.Color("#C678DD")
	colorBorder    = lipgloss.Color("#3F4451")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true).
			PaddingLeft(1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorMagenta).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorFgMuted).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorFgPrimary)

	selectedStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorFgMuted).
			PaddingLeft(1).
			PaddingRight(1)

	noticeStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(colorRed).
			Padding(1, 2)

	errorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	successStyle = lipgloss.NewStyle().Foreground(colorGreen)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorFgMuted)
)

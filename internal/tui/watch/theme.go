// Package watch implements the claudegw system watch TUI: live run and
// Cloud Run job activity read from the HTTP API.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK       lipgloss.Style
	StatusRunning  lipgloss.Style
	StatusFailed   lipgloss.Style
	StatusTimedOut lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusTimedOut: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8C00")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// StatusStyle picks the style for a run status.
func (t Theme) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded":
		return t.StatusOK
	case "failed":
		return t.StatusFailed
	case "timed_out":
		return t.StatusTimedOut
	case "running":
		return t.StatusRunning
	default:
		return t.Dim
	}
}

package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState is the last /healthz answer.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	InFlight      int
	MaxConcurrent int
	Connected     bool
	LastCheck     time.Time
}

func (h HealthState) label(theme Theme) string {
	switch {
	case !h.Connected:
		return theme.StatusFailed.Render("CONNECTING")
	case h.Status == "" || h.Status == "ok":
		return theme.StatusOK.Render("HEALTHY")
	default:
		return theme.StatusFailed.Render("DEGRADED")
	}
}

type headerView struct {
	health   HealthState
	active   int
	pulse    string
	activity activity
	now      time.Time
}

func (v headerView) render(theme Theme, width int) string {
	inner := width - 4

	title := " CLAUDEGW WATCH " + v.pulse
	clock := theme.Dim.Render(v.now.Format("15:04:05"))
	gap := max(inner-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)

	since := "never"
	if !v.activity.last.IsZero() {
		since = v.now.Sub(v.activity.last).Round(time.Second).String() + " ago"
	}

	lines := []string{
		title + strings.Repeat(" ", gap) + clock + " ",
		fmt.Sprintf(" %s  up %s  batches %d/%d  active runs %d",
			v.health.label(theme),
			formatUptime(time.Duration(v.health.UptimeSeconds)*time.Second),
			v.health.InFlight, v.health.MaxConcurrent, v.active),
		fmt.Sprintf(" Last event: %s %s", since, v.activity.render(theme)),
	}
	return theme.Border.Width(inner).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func formatUptime(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

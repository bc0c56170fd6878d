package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
)

const maxEventLines = 8

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= maxEventLines {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EVENT STREAM"), eventsText)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeRunStarted:
		typeStyle = theme.StatusRunning
	case events.TypeRunCompleted:
		typeStyle = theme.StatusOK
	case events.TypeJobStage:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}
	typeName := typeStyle.Render(fmt.Sprintf("%-14s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e, theme))
}

func describeEvent(e events.Event, theme Theme) string {
	var data struct {
		RunID  string `json:"run_id"`
		Kind   string `json:"kind"`
		Model  string `json:"model"`
		Status string `json:"status"`
		Job    string `json:"job"`
		Stage  string `json:"stage"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return truncate(string(e.Data), 60)
	}

	var parts []string
	if data.RunID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(data.RunID)))
	}
	for _, p := range []string{data.Kind, data.Model, data.Job, data.Stage} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if data.Status != "" {
		parts = append(parts, theme.StatusStyle(data.Status).Render(data.Status))
	}
	if data.Error != "" {
		parts = append(parts, theme.StatusFailed.Render(truncate(data.Error, 50)))
	}
	if len(parts) == 0 {
		return truncate(string(e.Data), 60)
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// ActiveRun is a run seen starting on the event stream and not yet completed.
type ActiveRun struct {
	RunID   string
	Kind    string
	Model   string
	Item    int
	Job     string
	Stage   string
	Started time.Time
}

// applyEvent updates the active set and reports whether run history changed.
func applyEvent(active map[string]*ActiveRun, e events.Event) bool {
	switch e.Type {
	case events.TypeRunStarted:
		var d events.RunStarted
		if json.Unmarshal(e.Data, &d) != nil || d.RunID == "" {
			return false
		}
		active[d.RunID] = &ActiveRun{RunID: d.RunID, Kind: d.Kind, Model: d.Model, Item: d.ItemIndex, Started: e.At}
		return true
	case events.TypeJobStage:
		var d events.JobStage
		if json.Unmarshal(e.Data, &d) != nil {
			return false
		}
		if r, ok := active[d.RunID]; ok {
			r.Job = d.Job
			r.Stage = d.Stage
		}
		return false
	case events.TypeRunCompleted:
		var d events.RunCompleted
		if json.Unmarshal(e.Data, &d) != nil {
			return false
		}
		delete(active, d.RunID)
		return true
	}
	return false
}

func renderActive(active map[string]*ActiveRun, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("ACTIVE (%d)", len(active)))
	if len(active) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Idle")))
	}

	list := make([]*ActiveRun, 0, len(active))
	for _, r := range active {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Started.Before(list[j].Started) })

	lines := make([]string, 0, len(list))
	for _, r := range list {
		where := "local"
		if r.Job != "" {
			where = fmt.Sprintf("%s (%s)", r.Job, r.Stage)
		}
		lines = append(lines, fmt.Sprintf(" %s %-18s %-9s item %d  %s  %s",
			theme.StatusRunning.Render("●"), r.Kind, r.Model, r.Item, where,
			theme.Dim.Render(runs.FormatDuration(now.Sub(r.Started).Truncate(time.Second)))))
	}
	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

func newRunTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 8},
			{Title: "Kind", Width: 18},
			{Title: "Model", Width: 9},
			{Title: "Status", Width: 10},
			{Title: "Job", Width: 34},
			{Title: "Took", Width: 8},
			{Title: "Started", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true).
		Foreground(theme.Header.GetForeground())
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(s)
	return t
}

func runRows(list []runs.Run) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, r := range list {
		rows = append(rows, table.Row{
			shortID(r.ID),
			string(r.Kind),
			r.Model,
			string(r.Status),
			r.JobName,
			r.Took(),
			r.CreatedAt.Local().Format("15:04:05"),
		})
	}
	return rows
}

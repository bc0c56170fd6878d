package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

const (
	runListLimit = 50
	pollInterval = 5 * time.Second
	maxEventLog  = 50
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	health   HealthState
	active   map[string]*ActiveRun
	runs     []runs.Run
	eventLog []events.Event

	pulse    spinner.Model
	activity activity
	theme    Theme

	table  table.Model
	detail *runs.Run
	output viewport.Model

	hubEvents chan events.Event
	lastError string
	now       func() time.Time
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		client:    NewClient(apiURL, apiKey),
		active:    make(map[string]*ActiveRun),
		hubEvents: make(chan events.Event, 100),
		pulse:     newPulse(theme),
		theme:     theme,
		table:     newRunTable(theme),
		output:    viewport.New(80, 20),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		fetchRuns(m.client, runListLimit),
		m.pulse.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.output.Width = max(msg.Width-8, 20)
		m.output.Height = max(msg.Height-10, 5)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.pulse, cmd = m.pulse.Update(msg)
		return m, cmd

	case tickMsg:
		m.activity.prune(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.record(m.now())
		m.health.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		if applyEvent(m.active, e) {
			cmds = append(cmds, fetchRuns(m.client, runListLimit))
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.InFlight = msg.InFlight
		m.health.MaxConcurrent = msg.MaxConcurrent
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.client)() })

	case runsMsg:
		m.runs = []runs.Run(msg)
		m.table.SetRows(runRows(m.runs))
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchRuns(m.client, runListLimit)() })

	case runDetailMsg:
		r := runs.Run(msg)
		m.detail = &r
		m.output.SetContent(detailText(r))
		m.output.GotoTop()

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps waiting on the same channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.client)() })
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	}

	if m.detail != nil {
		if msg.String() == "esc" {
			m.detail = nil
			return m, nil
		}
		var cmd tea.Cmd
		m.output, cmd = m.output.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "enter":
		if row := m.table.Cursor(); row >= 0 && row < len(m.runs) {
			return m, fetchRun(m.client, m.runs[row].ID)
		}
		return m, nil
	case "r":
		return m, fetchRuns(m.client, runListLimit)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := headerView{
		health:   m.health,
		active:   len(m.active),
		pulse:    m.pulse.View(),
		activity: m.activity,
		now:      m.now(),
	}.render(m.theme, m.width)

	var body []string
	var help string
	if m.detail != nil {
		body = []string{m.theme.Border.Width(m.width - 4).Render(m.output.View())}
		help = " [esc] Back • [↑/↓] Scroll • [q] Quit"
	} else {
		history := m.theme.Border.Width(m.width - 4).Render(
			lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("RUNS"), m.table.View()))
		body = []string{
			renderActive(m.active, m.theme, m.width, m.now()),
			history,
			renderEventStream(m.eventLog, m.theme, m.width),
		}
		help = " [q] Quit • [↑/↓] Select • [enter] Output • [r] Refresh"
	}

	parts := append([]string{header}, body...)
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(help))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func detailText(r runs.Run) string {
	head := fmt.Sprintf("run %s  %s  %s  %s", r.ID, r.Kind, r.Model, r.Status)
	if r.JobName != "" {
		head += "  job " + r.JobName
	}
	text := head + "\n\nprompt:\n" + r.Prompt + "\n"
	if r.Error != "" {
		text += "\nerror:\n" + r.Error + "\n"
	}
	if r.Output != "" {
		text += "\noutput:\n" + r.Output + "\n"
	}
	return text
}

package watch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestParseSSELine(t *testing.T) {
	var cur events.Event
	for _, line := range []string{": keep-alive", "id: 7", "event: run.started", `data: {"run_id":"abc"}`} {
		_, done := parseSSELine(&cur, line)
		assert.False(t, done)
	}
	ev, done := parseSSELine(&cur, "")
	require.True(t, done)
	assert.Equal(t, int64(7), ev.ID)
	assert.Equal(t, "run.started", ev.Type)
	assert.JSONEq(t, `{"run_id":"abc"}`, string(ev.Data))

	_, done = parseSSELine(&cur, "")
	assert.False(t, done, "a bare blank line is not an event")
}

func TestApplyEventTracksActiveRuns(t *testing.T) {
	active := map[string]*ActiveRun{}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	changed := applyEvent(active, events.Event{Type: events.TypeRunStarted, At: at,
		Data: mustJSON(t, events.RunStarted{RunID: "r1", Kind: "cloud-run-dispatch", Model: "opusplan", ItemIndex: 2})})
	assert.True(t, changed)
	require.Contains(t, active, "r1")
	assert.Equal(t, 2, active["r1"].Item)

	changed = applyEvent(active, events.Event{Type: events.TypeJobStage,
		Data: mustJSON(t, events.JobStage{RunID: "r1", Job: "svc-job-1", Stage: "execute"})})
	assert.False(t, changed)
	assert.Equal(t, "svc-job-1", active["r1"].Job)
	assert.Equal(t, "execute", active["r1"].Stage)

	changed = applyEvent(active, events.Event{Type: events.TypeRunCompleted,
		Data: mustJSON(t, events.RunCompleted{RunID: "r1", Status: "succeeded"})})
	assert.True(t, changed)
	assert.Empty(t, active)

	assert.False(t, applyEvent(active, events.Event{Type: "other", Data: json.RawMessage(`{}`)}))
}

func TestRunRows(t *testing.T) {
	done := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	rows := runRows([]runs.Run{
		{ID: "0123456789", Kind: runs.KindClaudeCode, Model: "sonnet", Status: runs.StatusSucceeded, CompletedAt: &done, Duration: 90 * time.Second},
		{ID: "abc", Kind: runs.KindCloudRunDispatch, Status: runs.StatusRunning, JobName: "svc-job-x"},
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "01234567", rows[0][0])
	assert.Equal(t, "1m30s", rows[0][5])
	assert.Equal(t, "-", rows[1][5])
	assert.Equal(t, "svc-job-x", rows[1][4])
}

func TestClientRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid API key"}`))
			return
		}
		switch r.URL.Path {
		case "/v1/runs":
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"runs":[{"id":"r1","kind":"claude-code","status":"running"}]}`))
		case "/v1/runs/r1":
			_, _ = w.Write([]byte(`{"id":"r1","output":"hello"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "k")
	list, err := c.Runs(t.Context(), 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, runs.StatusRunning, list[0].Status)

	r, err := c.Run(t.Context(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello", r.Output)

	_, err = NewClient(srv.URL, "bad").Runs(t.Context(), 50)
	assert.ErrorContains(t, err, "invalid API key")
}

func TestModelUpdates(t *testing.T) {
	m := New("http://127.0.0.1:0", "k")
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	mm := next.(Model)
	assert.Equal(t, 120, mm.width)

	next, _ = mm.Update(runsMsg{{ID: "r1", Kind: runs.KindClaudeCode, Status: runs.StatusFailed}})
	mm = next.(Model)
	assert.Len(t, mm.table.Rows(), 1)

	next, _ = mm.Update(runDetailMsg(runs.Run{ID: "r1", Prompt: "p", Error: "boom"}))
	mm = next.(Model)
	require.NotNil(t, mm.detail)
	assert.Contains(t, mm.View(), "[esc] Back")

	next, _ = mm.Update(tea.KeyMsg{Type: tea.KeyEsc})
	mm = next.(Model)
	assert.Nil(t, mm.detail)
	assert.Contains(t, mm.View(), "RUNS")

	_, cmd := mm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestDetailText(t *testing.T) {
	txt := detailText(runs.Run{ID: "r", Kind: runs.KindCloudRunDispatch, JobName: "j", Prompt: "p", Output: "o"})
	assert.Contains(t, txt, "job j")
	assert.Contains(t, txt, "prompt:\np")
	assert.Contains(t, txt, "output:\no")
	assert.NotContains(t, txt, "error:")
}

func TestActivityWindow(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var a activity
	for i := range 7 {
		a.record(base.Add(time.Duration(i) * time.Second))
	}
	assert.Len(t, a.seen, activityDots)
	assert.Equal(t, base.Add(6*time.Second), a.last)

	a.prune(base.Add(15 * time.Second))
	assert.Len(t, a.seen, 2)

	a.prune(base.Add(time.Minute))
	assert.Empty(t, a.seen)
	assert.False(t, a.last.IsZero())
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "42s", formatUptime(42*time.Second))
	assert.Equal(t, "3m07s", formatUptime(3*time.Minute+7*time.Second))
	assert.Equal(t, "2h05m", formatUptime(2*time.Hour+5*time.Minute))
}

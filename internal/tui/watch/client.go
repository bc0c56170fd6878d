package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	InFlight      int    `json:"in_flight"`
	MaxConcurrent int    `json:"max_concurrent"`
}

type runsMsg []runs.Run

type runDetailMsg runs.Run

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// Client talks to the claudegw HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("GET %s: %s %s", path, resp.Status, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health queries /healthz.
func (c *Client) Health(ctx context.Context) (healthMsg, error) {
	var h healthMsg
	err := c.get(ctx, "/healthz", &h)
	return h, err
}

// Runs lists recent runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]runs.Run, error) {
	var resp struct {
		Runs []runs.Run `json:"runs"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.get(ctx, "/v1/runs?"+q.Encode(), &resp)
	return resp.Runs, err
}

// Run fetches one run including its output.
func (c *Client) Run(ctx context.Context, id string) (*runs.Run, error) {
	var r runs.Run
	if err := c.get(ctx, "/v1/runs/"+url.PathEscape(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Stream reads /v1/events until the connection drops, sending each event to ch.
func (c *Client) Stream(ctx context.Context, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /v1/events: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var cur events.Event
	for scanner.Scan() {
		ev, done := parseSSELine(&cur, scanner.Text())
		if done {
			ch <- ev
		}
	}
	return scanner.Err()
}

// parseSSELine folds one line into cur. It reports a complete event on the
// blank line that terminates it.
func parseSSELine(cur *events.Event, line string) (events.Event, bool) {
	switch {
	case line == "":
		if len(cur.Data) == 0 {
			*cur = events.Event{}
			return events.Event{}, false
		}
		ev := *cur
		ev.At = time.Now()
		*cur = events.Event{}
		return ev, true
	case strings.HasPrefix(line, ":"):
		// comment / keep-alive
	case strings.HasPrefix(line, "id: "):
		if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
			cur.ID = id
		}
	case strings.HasPrefix(line, "event: "):
		cur.Type = line[7:]
	case strings.HasPrefix(line, "data: "):
		cur.Data = json.RawMessage(line[6:])
	}
	return events.Event{}, false
}

// --- Commands ---

func subscribeToEvents(c *Client, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_ = c.Stream(context.Background(), ch)
		return sseDisconnectedMsg{}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		h, err := c.Health(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return h
	}
}

func fetchRuns(c *Client, limit int) tea.Cmd {
	return func() tea.Msg {
		list, err := c.Runs(context.Background(), limit)
		if err != nil {
			return errMsg(err)
		}
		return runsMsg(list)
	}
}

func fetchRun(c *Client, id string) tea.Cmd {
	return func() tea.Msg {
		r, err := c.Run(context.Background(), id)
		if err != nil {
			return errMsg(err)
		}
		return runDetailMsg(*r)
	}
}

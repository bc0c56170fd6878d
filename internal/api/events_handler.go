package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
)

const heartbeatEvery = 15 * time.Second

// handleEvents streams hub events as text/event-stream. A Last-Event-ID
// header resumes from the retained backlog.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.deps.Events.Subscribe(parseLastEventID(r.Header.Get("Last-Event-ID")))
	defer sub.Cancel()

	for _, ev := range sub.Backlog {
		if writeSSE(w, ev) != nil {
			return
		}
	}
	if rc.Flush() != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			err = writeSSE(w, ev)
		case <-heartbeat.C:
			_, err = io.WriteString(w, ": ping\n\n")
		}
		if err != nil || rc.Flush() != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one event. Data is compact JSON so it fits a single data line.
func writeSSE(w io.Writer, ev events.Event) error {
	data := ev.Data
	if len(data) == 0 || !json.Valid(data) {
		data = json.RawMessage("{}")
	}
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}

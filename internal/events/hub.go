package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one published notification. IDs increase by one per publish and
// restart at 1 with the process.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the producer side of Hub. Nodes depend on this rather than Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Subscription is a live feed from a Hub. Backlog holds the retained events
// newer than the ID passed to Subscribe; C carries everything published
// afterwards and is closed by Cancel or Hub.Close.
type Subscription struct {
	Backlog []Event
	C       <-chan Event

	hub *Hub
	ch  chan Event
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.detach(s.ch)
}

// Hub fans events out to subscribers and keeps the latest few for clients
// that reconnect with Last-Event-ID.
type Hub struct {
	now     func() time.Time
	retain  int
	chanCap int

	mu     sync.Mutex
	lastID int64
	recent []Event
	subs   map[chan Event]struct{}
	closed bool
}

// NewHub returns a hub retaining up to retain events (100 when <= 0).
func NewHub(retain int) *Hub {
	if retain <= 0 {
		retain = 100
	}
	return &Hub{
		now:     time.Now,
		retain:  retain,
		chanCap: 128,
		recent:  make([]Event, 0, retain),
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish encodes data as JSON and delivers it. Values that fail to encode
// are published as {}. A subscriber with a full channel misses the event.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: h.now().UTC(), Data: payload}

	if len(h.recent) == h.retain {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:h.retain-1]
	}
	h.recent = append(h.recent, ev)

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe attaches a subscriber. Retained events with ID > afterID are
// returned in Backlog, oldest first, and never repeated on C.
func (h *Hub) Subscribe(afterID int64) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.chanCap)
	sub := &Subscription{C: ch, hub: h, ch: ch}
	if h.closed {
		close(ch)
		return sub
	}
	for _, ev := range h.recent {
		if ev.ID > afterID {
			sub.Backlog = append(sub.Backlog, ev)
		}
	}
	h.subs[ch] = struct{}{}
	return sub
}

// Recent returns the retained events with ID > afterID, oldest first.
func (h *Hub) Recent(afterID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, ev := range h.recent {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out
}

// Close ends every subscription; later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	h.recent = nil
}

func (h *Hub) detach(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

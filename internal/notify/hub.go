package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/presence"
)

type EventType string

const (
	JoinEventType   EventType = "join"
	StatusEventType EventType = "status"
)

// Event is what live subscribers and the recent history see.
type Event struct {
	Type      EventType           `json:"type"`
	Join      *presence.JoinEvent `json:"join,omitempty"`
	Online    int                 `json:"online"`
	Timestamp time.Time           `json:"timestamp"`
}

// Hub keeps a bounded history of events and fans them out to subscribers.
// It records every join regardless of the server's notification channel.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	events      []Event
	maxEvents   int

	now func() time.Time
}

func NewHub(maxEvents int) *Hub {
	if maxEvents <= 0 {
		maxEvents = 100
	}
	return &Hub{
		subscribers: make(map[string]chan Event),
		events:      make([]Event, 0, maxEvents),
		maxEvents:   maxEvents,
		now:         time.Now,
	}
}

func (h *Hub) AnnounceJoin(_ context.Context, _ string, ev presence.JoinEvent) error {
	h.publish(Event{Type: JoinEventType, Join: &ev, Timestamp: ev.At})
	return nil
}

func (h *Hub) UpdateStatus(_ context.Context, online int) error {
	h.publish(Event{Type: StatusEventType, Online: online, Timestamp: h.now()})
	return nil
}

// Subscribe returns an id for Unsubscribe and a buffered channel of events.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Recent returns up to limit of the latest join events, oldest first.
func (h *Hub) Recent(limit int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.events) {
		limit = len(h.events)
	}
	out := make([]Event, limit)
	copy(out, h.events[len(h.events)-limit:])
	return out
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// status updates are live only
	if ev.Type == JoinEventType {
		if len(h.events) >= h.maxEvents {
			h.events = append(h.events[1:], ev)
		} else {
			h.events = append(h.events, ev)
		}
	}

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			log.WithField("subscriber", id).Debug("notify: subscriber slow, event dropped")
		}
	}
}

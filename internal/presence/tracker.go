// Package presence keeps the last successful player list of every monitored
// server and turns consecutive lists into join events.
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reedfamily/rconwatch/internal/players"
)

// JoinEvent reports a player that was absent from the previous successful
// poll of Server and present in the current one.
type JoinEvent struct {
	ID     string         `json:"id"`
	Server string         `json:"server"`
	Player players.Record `json:"player"`
	At     time.Time      `json:"at"`
}

type slot struct {
	mu   sync.Mutex
	seen players.Set
	ok   bool
}

// Tracker owns the presence table. Writers are serialized per server, so
// servers never wait on each other.
//
// Players are compared by the exact (name, id) pair. A player who renames
// while keeping the same id is therefore reported as a new join.
type Tracker struct {
	mu    sync.Mutex
	slots map[string]*slot

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

func (t *Tracker) slot(server string) *slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[server]
	if !ok {
		s = &slot{}
		t.slots[server] = s
	}
	return s
}

// Update diffs current against the previous set for server and replaces the
// stored set in the same critical section. Call it only for successful polls.
func (t *Tracker) Update(server string, current players.Set) []JoinEvent {
	s := t.slot(server)
	s.mu.Lock()
	defer s.mu.Unlock()

	joined := current.Diff(s.seen)
	s.seen = current.Clone()
	s.ok = true

	if len(joined) == 0 {
		return nil
	}

	at := t.now()
	events := make([]JoinEvent, 0, len(joined))
	for _, p := range joined {
		events = append(events, JoinEvent{
			ID:     uuid.New().String(),
			Server: server,
			Player: p,
			At:     at,
		})
	}
	return events
}

// Seen returns a copy of the stored set for server. ok is false until the
// first successful poll of that server.
func (t *Tracker) Seen(server string) (players.Set, bool) {
	t.mu.Lock()
	s, exists := t.slots[server]
	t.mu.Unlock()
	if !exists {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok {
		return nil, false
	}
	return s.seen.Clone(), true
}

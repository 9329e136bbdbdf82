package monitor

import (
	"sort"
	"time"

	"github.com/reedfamily/rconwatch/internal/players"
)

// Status is the latest view of one server.
type Status struct {
	Name        string           `json:"name"`
	Address     string           `json:"address"`
	Online      bool             `json:"online"`
	Players     []players.Record `json:"players"`
	PlayerCount int              `json:"player_count"`
	LastPoll    time.Time        `json:"last_poll"`
	LastSuccess time.Time        `json:"last_success"`
	LastError   string           `json:"last_error,omitempty"`
	Polls       int              `json:"polls"`
	Failures    int              `json:"failures"`
}

// Aggregate is the latest view across all servers.
type Aggregate struct {
	Online    int       `json:"online"`
	Servers   int       `json:"servers"`
	ServersUp int       `json:"servers_up"`
	Ticks     int       `json:"ticks"`
	LastTick  time.Time `json:"last_tick"`
}

func (m *Monitor) recordSuccess(name string, set players.Set) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status[name]
	s.Online = true
	s.Players = set.Records()
	s.PlayerCount = set.Len()
	s.LastPoll = now
	s.LastSuccess = now
	s.LastError = ""
	s.Polls++
}

// recordFailure keeps the last known players so the dashboard still shows
// who was on before the outage.
func (m *Monitor) recordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.status[name]
	s.Online = false
	s.LastPoll = m.now()
	s.LastError = err.Error()
	s.Polls++
	s.Failures++
}

// Snapshot returns copies of all server statuses: online first, then by
// player count descending, then by name.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	list := make([]Status, 0, len(m.status))
	for _, s := range m.status {
		list = append(list, copyStatus(s))
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Online != list[j].Online {
			return list[i].Online
		}
		if list[i].PlayerCount != list[j].PlayerCount {
			return list[i].PlayerCount > list[j].PlayerCount
		}
		return list[i].Name < list[j].Name
	})
	return list
}

func (m *Monitor) Server(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.status[name]
	if !ok {
		return Status{}, false
	}
	return copyStatus(s), true
}

func (m *Monitor) Aggregate() Aggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg := Aggregate{
		Online:   m.online,
		Servers:  len(m.status),
		Ticks:    m.ticks,
		LastTick: m.lastTick,
	}
	for _, s := range m.status {
		if s.Online {
			agg.ServersUp++
		}
	}
	return agg
}

func copyStatus(s *Status) Status {
	c := *s
	c.Players = append([]players.Record{}, s.Players...)
	return c
}

// Package monitor drives the poll loop: every tick it queries all servers in
// parallel, diffs their player lists and forwards joins and the online count.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/config"
	"github.com/reedfamily/rconwatch/internal/notify"
	"github.com/reedfamily/rconwatch/internal/players"
	"github.com/reedfamily/rconwatch/internal/presence"
)

//go:generate mockgen -destination=mock_querier.go -package=monitor github.com/reedfamily/rconwatch/internal/monitor Querier

const (
	DefaultInterval = 18 * time.Second
	DefaultCommand  = "ShowPlayers"
)

var ErrUnknownServer = errors.New("unknown server")

// Querier runs one RCON command against one server.
type Querier interface {
	Query(ctx context.Context, srv config.ServerConfig, command string) (string, error)
}

type Options struct {
	Servers  []config.ServerConfig
	Querier  Querier
	Tracker  *presence.Tracker
	Interval time.Duration
	Command  string

	// Sink gets join announcements for servers with a channel, plus the
	// online count after every tick. It must not block.
	Sink notify.Sink
	// Events, when set, records every join and count regardless of channel.
	Events *notify.Hub
}

// Result is the outcome of polling one server in one tick. Players is nil
// when Err is set.
type Result struct {
	Server  string
	Players players.Set
	Err     error
}

// Tick summarizes one pass over all servers.
type Tick struct {
	Online  int
	Results []Result
	Joins   []presence.JoinEvent
	At      time.Time
}

type Monitor struct {
	servers  []config.ServerConfig
	querier  Querier
	tracker  *presence.Tracker
	sink     notify.Sink
	events   *notify.Hub
	interval time.Duration
	command  string

	mu       sync.RWMutex
	status   map[string]*Status
	online   int
	lastTick time.Time
	ticks    int

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.Tracker == nil {
		opts.Tracker = presence.NewTracker()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Logger{}
	}

	m := &Monitor{
		servers:  opts.Servers,
		querier:  opts.Querier,
		tracker:  opts.Tracker,
		sink:     opts.Sink,
		events:   opts.Events,
		interval: opts.Interval,
		command:  opts.Command,
		status:   make(map[string]*Status, len(opts.Servers)),
		now:      time.Now,
	}
	for _, srv := range opts.Servers {
		m.status[srv.Name] = &Status{Name: srv.Name, Address: srv.Address()}
	}
	return m
}

// Start launches the poll loop. The first tick runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx)

	log.WithFields(log.Fields{
		"servers":  len(m.servers),
		"interval": m.interval,
	}).Info("Monitor started")
}

// Stop cancels the loop and waits for it to exit. A tick in progress is
// allowed to finish; its RCON calls are bounded by the query timeout.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		if ctx.Err() != nil {
			return
		}
		m.Tick(ctx)

		// fixed delay after the batch, not a fixed rate
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

// Tick polls every server once and publishes the results. Cancelling ctx
// does not abort queries already in flight.
func (m *Monitor) Tick(ctx context.Context) Tick {
	queryCtx := context.WithoutCancel(ctx)

	results := make([]Result, len(m.servers))
	joins := make([][]presence.JoinEvent, len(m.servers))

	var wg sync.WaitGroup
	for i, srv := range m.servers {
		wg.Add(1)
		go func(i int, srv config.ServerConfig) {
			defer wg.Done()
			results[i], joins[i] = m.pollServer(queryCtx, srv)
		}(i, srv)
	}
	wg.Wait()

	tick := Tick{Results: results, At: m.now()}
	for i, r := range results {
		if r.Err == nil {
			tick.Online += r.Players.Len()
		}
		tick.Joins = append(tick.Joins, joins[i]...)
	}

	m.mu.Lock()
	m.online = tick.Online
	m.lastTick = tick.At
	m.ticks++
	m.mu.Unlock()

	if err := m.sink.UpdateStatus(queryCtx, tick.Online); err != nil {
		log.WithField("online", tick.Online).Errorf("monitor: status update: %v", err)
	}
	if m.events != nil {
		m.events.UpdateStatus(queryCtx, tick.Online)
	}

	log.WithFields(log.Fields{
		"online": tick.Online,
		"joins":  len(tick.Joins),
	}).Debug("Tick complete")
	return tick
}

// pollServer queries one server and, on success, updates its presence and
// forwards the joins. On failure presence is left untouched.
func (m *Monitor) pollServer(ctx context.Context, srv config.ServerConfig) (Result, []presence.JoinEvent) {
	logger := log.WithField("server", srv.Name)

	raw, err := m.querier.Query(ctx, srv, m.command)
	if err != nil {
		logger.Warnf("Failed to query players: %v", err)
		m.recordFailure(srv.Name, err)
		return Result{Server: srv.Name, Err: err}, nil
	}

	set := players.Parse(raw)
	joins := m.tracker.Update(srv.Name, set)
	m.recordSuccess(srv.Name, set)

	for _, ev := range joins {
		logger.WithFields(log.Fields{
			"player": ev.Player.Name,
			"id":     ev.Player.ID,
		}).Info("Player joined")

		if m.events != nil {
			m.events.AnnounceJoin(ctx, srv.Channel, ev)
		}
		if srv.Channel == "" {
			continue
		}
		if err := m.sink.AnnounceJoin(ctx, srv.Channel, ev); err != nil {
			logger.Errorf("monitor: announce join: %v", err)
		}
	}
	return Result{Server: srv.Name, Players: set}, joins
}

// Probe runs the presence command once against the named server and returns
// the raw reply. Presence state is not touched.
func (m *Monitor) Probe(ctx context.Context, name string) (string, error) {
	for _, srv := range m.servers {
		if srv.Name == name {
			return m.querier.Query(ctx, srv, m.command)
		}
	}
	return "", errors.Wrap(ErrUnknownServer, name)
}

func (m *Monitor) Servers() []config.ServerConfig {
	out := make([]config.ServerConfig, len(m.servers))
	copy(out, m.servers)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

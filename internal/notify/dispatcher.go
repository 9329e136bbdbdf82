package notify

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/presence"
)

const (
	DefaultQueueSize       = 256
	DefaultDeliveryTimeout = 10 * time.Second
)

type job struct {
	channel string
	join    *presence.JoinEvent
	online  int
}

// Dispatcher is a Sink that queues calls and hands them to the wrapped sink
// from a single worker goroutine. Enqueueing never blocks: a full queue drops
// the message. Delivery errors are logged and not retried.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration

	mu      sync.RWMutex
	stopped bool
	queue   chan job
	done    chan struct{}
}

func NewDispatcher(sink Sink, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Dispatcher{
		sink:    sink,
		timeout: timeout,
		queue:   make(chan job, queueSize),
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for j := range d.queue {
			d.deliver(j)
		}
	}()
}

// Stop drains what is already queued and waits for the worker to exit.
// Calls made after Stop are dropped. Start must have been called.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) AnnounceJoin(_ context.Context, channel string, ev presence.JoinEvent) error {
	d.enqueue(job{channel: channel, join: &ev})
	return nil
}

func (d *Dispatcher) UpdateStatus(_ context.Context, online int) error {
	d.enqueue(job{online: online})
	return nil
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		log.Warn("notify: dispatcher stopped, message dropped")
		return
	}
	select {
	case d.queue <- j:
	default:
		log.Warn("notify: queue full, message dropped")
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if j.join != nil {
		if err := d.sink.AnnounceJoin(ctx, j.channel, *j.join); err != nil {
			log.WithFields(log.Fields{
				"server": j.join.Server,
				"player": j.join.Player.Name,
			}).Errorf("notify: announce join: %v", err)
		}
		return
	}
	if err := d.sink.UpdateStatus(ctx, j.online); err != nil {
		log.WithField("online", j.online).Errorf("notify: update status: %v", err)
	}
}

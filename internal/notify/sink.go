// Package notify delivers join announcements and online counts to the
// outside world.
package notify

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/presence"
)

//go:generate mockgen -destination=mock_sink.go -package=notify github.com/reedfamily/rconwatch/internal/notify Sink

// Sink receives monitor output. channel is the server's configured
// notification destination and is never empty.
type Sink interface {
	AnnounceJoin(ctx context.Context, channel string, ev presence.JoinEvent) error
	UpdateStatus(ctx context.Context, online int) error
}

// Multi forwards every call to all of its sinks.
type Multi []Sink

func (m Multi) AnnounceJoin(ctx context.Context, channel string, ev presence.JoinEvent) error {
	var errs multiError
	for _, s := range m {
		if err := s.AnnounceJoin(ctx, channel, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.orNil()
}

func (m Multi) UpdateStatus(ctx context.Context, online int) error {
	var errs multiError
	for _, s := range m {
		if err := s.UpdateStatus(ctx, online); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.orNil()
}

type multiError []error

func (m multiError) Error() string {
	msgs := make([]string, len(m))
	for i, err := range m {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m multiError) Unwrap() []error { return m }

func (m multiError) orNil() error {
	if len(m) == 0 {
		return nil
	}
	return m
}

// Logger writes announcements to the log at debug level. The monitor already
// logs every join at info, so this only traces what reached the sinks.
type Logger struct{}

func (Logger) AnnounceJoin(_ context.Context, channel string, ev presence.JoinEvent) error {
	log.WithFields(log.Fields{
		"server":  ev.Server,
		"player":  ev.Player.Name,
		"id":      ev.Player.ID,
		"channel": channel,
	}).Debug("Join announced")
	return nil
}

func (Logger) UpdateStatus(_ context.Context, online int) error {
	log.WithField("online", online).Debug("Players online")
	return nil
}

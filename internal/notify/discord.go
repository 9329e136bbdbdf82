package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/reedfamily/rconwatch/internal/config"
	"github.com/reedfamily/rconwatch/internal/presence"
)

// discordSession is the part of *discordgo.Session the sink uses.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UpdateGameStatus(idle int, name string) error
}

// Discord posts join announcements to the server's channel and shows the
// online count as the bot's game activity.
type Discord struct {
	session      discordSession
	limiter      *rate.Limiter
	statusFormat string
	openTimeout  time.Duration
}

func NewDiscord(cfg config.DiscordConfig) (*Discord, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "discord session")
	}
	return newDiscord(session, cfg), nil
}

func newDiscord(session discordSession, cfg config.DiscordConfig) *Discord {
	limit := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	format := cfg.StatusFormat
	if format == "" {
		format = "Players Online: %d"
	}
	return &Discord{
		session:      session,
		limiter:      rate.NewLimiter(limit, burst),
		statusFormat: format,
		openTimeout:  time.Minute,
	}
}

// Open connects to the gateway, retrying with exponential backoff for up to
// a minute.
func (d *Discord) Open(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = d.openTimeout

	attempt := 0
	op := func() error {
		attempt++
		err := d.session.Open()
		if err != nil {
			log.WithField("attempt", attempt).Warnf("discord: open gateway: %v", err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return errors.Wrap(err, "discord: open gateway")
	}
	log.Info("discord: gateway connected")
	return nil
}

func (d *Discord) Close() error {
	return d.session.Close()
}

func (d *Discord) AnnounceJoin(ctx context.Context, channel string, ev presence.JoinEvent) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "discord: rate limit")
	}
	msg := fmt.Sprintf("Player joined on %s: %s (SteamID: %s)", ev.Server, ev.Player.Name, ev.Player.ID)
	if _, err := d.session.ChannelMessageSend(channel, msg, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "discord: send to channel %s", channel)
	}
	return nil
}

func (d *Discord) UpdateStatus(ctx context.Context, online int) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "discord: rate limit")
	}
	if err := d.session.UpdateGameStatus(0, fmt.Sprintf(d.statusFormat, online)); err != nil {
		return errors.Wrap(err, "discord: update status")
	}
	return nil
}

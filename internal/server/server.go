package server

import (
	"context"
	"database/sql"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/api"
	"github.com/reedfamily/rconwatch/internal/auth"
	"github.com/reedfamily/rconwatch/internal/config"
	"github.com/reedfamily/rconwatch/internal/monitor"
	"github.com/reedfamily/rconwatch/internal/notify"
	"github.com/reedfamily/rconwatch/internal/presence"
	"github.com/reedfamily/rconwatch/internal/rcon"
)

const recentEvents = 200

type Server struct {
	cfg        *config.Config
	db         *sql.DB
	router     chi.Router
	monitor    *monitor.Monitor
	dispatcher *notify.Dispatcher
	discord    *notify.Discord
}

// New wires the monitor to its sinks, starts polling and builds the router.
// With a Discord token configured, the gateway must connect before New
// returns.
func New(ctx context.Context, cfg *config.Config, db *sql.DB) (*Server, error) {
	authSvc := auth.NewService(db)
	if err := authSvc.EnsureDefaultUser(cfg.DefaultUser, cfg.DefaultPass); err != nil {
		return nil, errors.Wrap(err, "ensure default user")
	}

	s := &Server{cfg: cfg, db: db}

	var sink notify.Sink = notify.Logger{}
	if cfg.Discord.Token != "" {
		discord, err := notify.NewDiscord(cfg.Discord)
		if err != nil {
			return nil, err
		}
		if err := discord.Open(ctx); err != nil {
			return nil, err
		}
		s.discord = discord
		sink = notify.Multi{notify.Logger{}, discord}
	} else {
		log.Warn("No discord token configured, join announcements go to the log only")
	}

	s.dispatcher = notify.NewDispatcher(sink, notify.DefaultQueueSize, notify.DefaultDeliveryTimeout)
	s.dispatcher.Start()

	hub := notify.NewHub(recentEvents)
	s.monitor = monitor.New(monitor.Options{
		Servers:  cfg.Servers,
		Querier:  rcon.NewClient(cfg.QueryTimeout),
		Tracker:  presence.NewTracker(),
		Interval: cfg.PollInterval,
		Command:  cfg.Command,
		Sink:     s.dispatcher,
		Events:   hub,
	})
	s.monitor.Start(context.Background())

	authHandler := api.NewAuthHandler(authSvc)
	serverHandler := api.NewServerHandler(s.monitor, cfg.QueryTimeout)
	eventHandler := api.NewEventHandler(hub)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(api.AuthMiddleware(authSvc))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Get("/status", serverHandler.Status)

			r.Route("/servers", func(r chi.Router) {
				r.Get("/", serverHandler.List)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", serverHandler.Get)
					r.Post("/probe", serverHandler.Probe)
				})
			})

			r.Get("/events", eventHandler.Recent)
			// websocket clients pass ?token=
			r.Get("/events/live", eventHandler.Live)
		})
	})

	s.router = r
	return s, nil
}

func (s *Server) Router() chi.Router {
	return s.router
}

// Monitor exposes the running monitor, mainly for tests.
func (s *Server) Monitor() *monitor.Monitor {
	return s.monitor
}

// Stop halts polling first so that no new notifications are produced, then
// flushes the dispatcher and disconnects from Discord.
func (s *Server) Stop() {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	if s.discord != nil {
		if err := s.discord.Close(); err != nil {
			log.Warnf("discord: close: %v", err)
		}
	}
}

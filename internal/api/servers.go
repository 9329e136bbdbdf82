package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/monitor"
	"github.com/reedfamily/rconwatch/internal/players"
	"github.com/reedfamily/rconwatch/internal/rcon"
)

type ServerHandler struct {
	monitor      *monitor.Monitor
	probeTimeout time.Duration
}

func NewServerHandler(m *monitor.Monitor, probeTimeout time.Duration) *ServerHandler {
	if probeTimeout <= 0 {
		probeTimeout = rcon.DefaultTimeout
	}
	return &ServerHandler{monitor: m, probeTimeout: probeTimeout}
}

// List returns every server, online first, then by player count.
func (h *ServerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s, ok := h.monitor.Server(name)
	if !ok {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Probe sends the presence command once and returns the raw reply alongside
// what the parser makes of it. Presence state is not updated.
func (h *ServerHandler) Probe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
	defer cancel()

	raw, err := h.monitor.Probe(ctx, name)
	switch {
	case errors.Is(err, monitor.ErrUnknownServer):
		writeError(w, http.StatusNotFound, "server not found")
		return
	case rcon.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	case err != nil:
		log.WithField("server", name).Warnf("Probe failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"raw":     raw,
		"players": players.Parse(raw).Records(),
	})
}

func (h *ServerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Aggregate())
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/notify"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type EventHandler struct {
	hub *notify.Hub
}

func NewEventHandler(hub *notify.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// Recent returns the latest join events, oldest first.
func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.hub.Recent(limit))
}

// Live pushes join and status events over a WebSocket as they happen.
func (h *EventHandler) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id, ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	// Read from client to detect disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

package ops

// Websocket live tail. Bridges the poll-based bus onto a push stream for
// dashboards: each connection carries its own cursor and receives every new
// event as one JSON message.

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	elerrors "github.com/enginelink/enginelink/pkg/errors"
)

const liveWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// diagnostics plane; same-origin enforcement is left to the deployment
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	cursor, ok := parseCursor(r.URL.Query().Get("cursor"))
	if !ok {
		elerrors.WriteHTTP(w, elerrors.OpsBadRequest, "cursor must be a non-negative integer")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("live upgrade failed", map[string]any{"error": err})
		return
	}
	defer conn.Close()

	// drain client frames so pings and close frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(liveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		latest, events := h.bus.Poll(cursor)
		cursor = latest
		for _, ev := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

package ws

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/auth"
	"nhooyr.io/websocket"
)

// ServeWS upgrades to WebSocket and serves the connection until it closes.
// Identity is read from ?token=xxx (WebSocket can't send headers); without
// one the connection is accepted but never receives deliveries.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, authenticated, err := h.identify(r)
	if err != nil {
		h.log.Warn("Handshake rejected", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"Invalid identity claim"}}`, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.log.Warn("Accept error", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h, conn, userID, authenticated)
	if !h.attach(client) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.readers.Done()

	go client.writePump()
	client.readPump(r.Context())
}

func (h *Hub) identify(r *http.Request) (uuid.UUID, bool, error) {
	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		userID, err := auth.ParseUserID(token, h.opts.JWTSecret)
		if err != nil {
			return uuid.Nil, false, err
		}
		return userID, true, nil
	}

	if raw := q.Get("userId"); raw != "" && h.opts.AllowPlainUserID {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("userId: %w", err)
		}
		return userID, true, nil
	}

	return uuid.Nil, false, nil
}

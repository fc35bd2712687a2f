package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/flowforge/orchestrator/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
}

// Handler upgrades incoming requests to WebSocket connections and hands them
// to the hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a WebSocket handler serving connections through hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS handles a WebSocket upgrade request. A freshly connected client
// has no subscriptions, which Client.IsSubscribed treats as "every
// execution" until the client sends a subscribe command to narrow it.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	logger.Info().
		Str("client_id", client.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket client connected")
}

package handlers

import (
	"net/http"

	"github.com/google/uuid"

	ws "github.com/agentstation/rallysync/internal/server/websocket"
)

// HandleWebSocket handles GET /api/v1/events/ws.
// @Summary Sync events over WebSocket
// @Description Every sync event as a JSON text frame
// @Tags events
// @Success 101 "Switching Protocols"
// @Router /api/v1/events/ws [get].
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(uuid.NewString(), h.wsHub, conn)
	if !h.wsHub.Register(client) {
		_ = conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}

// HandleSSE handles GET /api/v1/events/stream.
// @Summary Sync events over SSE
// @Description Server-Sent Events stream; ?collection= narrows it to one collection
// @Tags events
// @Produce text/event-stream
// @Param collection query string false "Collection name"
// @Success 200 "Event stream"
// @Router /api/v1/events/stream [get].
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseBroadcaster.ServeHTTP(w, r)
}

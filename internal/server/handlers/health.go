package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/server/response"
)

// HandleHealth handles GET /api/v1/health.
// @Summary Health check
// @Description Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} response.Response{data=object}
// @Router /api/v1/health [get].
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "rallysync",
		"version": "v1",
	})
}

// HandleReady handles GET /api/v1/ready.
// @Summary Readiness check
// @Description Readiness check with per-state collection counts and
// @Description realtime client counts
// @Tags health
// @Produce json
// @Success 200 {object} response.Response{data=object}
// @Failure 503 {object} response.Response{error=response.Error}
// @Router /api/v1/ready [get].
func (h *Handlers) HandleReady(w http.ResponseWriter, _ *http.Request) {
	if h.ctx.Err() != nil {
		response.ServiceUnavailable(w, "Server is shutting down")
		return
	}

	counts := map[rallysync.Status]int{}
	statuses := h.engine.Statuses()
	for _, st := range statuses {
		counts[st.Status]++
	}

	response.OK(w, map[string]any{
		"status":            "ready",
		"collections":       len(statuses),
		"states":            counts,
		"websocket_clients": h.wsHub.ClientCount(),
		"sse_clients":       h.sseBroadcaster.ClientCount(),
		"uptime":            time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Package adapters connects the sync event bus to the realtime transports.
package adapters

import (
	"github.com/agentstation/rallysync/internal/server/sse"
	ws "github.com/agentstation/rallysync/internal/server/websocket"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/events"
)

var (
	_ events.Subscriber = (*WebSocketSubscriber)(nil)
	_ events.Subscriber = (*SSESubscriber)(nil)
)

// errQueueFull is reported when a transport's broadcast queue cannot take
// another event.
var errQueueFull = errors.New("broadcast queue full")

// WebSocketSubscriber forwards bus events to a WebSocket hub.
type WebSocketSubscriber struct {
	hub *ws.Hub
}

// NewWebSocketSubscriber creates a subscriber feeding hub.
func NewWebSocketSubscriber(hub *ws.Hub) *WebSocketSubscriber {
	return &WebSocketSubscriber{hub: hub}
}

// Send queues event on the hub.
func (w *WebSocketSubscriber) Send(event events.Event) error {
	if !w.hub.Broadcast(event) {
		return errQueueFull
	}
	return nil
}

// Close is a no-op; the hub's lifetime is owned by the server.
func (w *WebSocketSubscriber) Close() error {
	return nil
}

// SSESubscriber forwards bus events to an SSE broadcaster.
type SSESubscriber struct {
	broadcaster *sse.Broadcaster
}

// NewSSESubscriber creates a subscriber feeding broadcaster.
func NewSSESubscriber(broadcaster *sse.Broadcaster) *SSESubscriber {
	return &SSESubscriber{broadcaster: broadcaster}
}

// Send queues event on the broadcaster.
func (s *SSESubscriber) Send(event events.Event) error {
	if !s.broadcaster.Broadcast(event) {
		return errQueueFull
	}
	return nil
}

// Close is a no-op; the broadcaster's lifetime is owned by the server.
func (s *SSESubscriber) Close() error {
	return nil
}

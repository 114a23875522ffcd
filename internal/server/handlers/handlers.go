// Package handlers implements the rallysync HTTP API on top of a sync
// Engine.
package handlers

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/server/sse"
	ws "github.com/agentstation/rallysync/internal/server/websocket"
)

// Handlers holds the dependencies shared by every endpoint.
type Handlers struct {
	engine         rallysync.Engine
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger

	// ctx outlives requests and bounds passes started without waiting.
	ctx         context.Context
	syncTimeout time.Duration
	startTime   time.Time
}

// Config carries the handler settings.
type Config struct {
	// SyncTimeout bounds how long a sync request waits for its pass.
	SyncTimeout time.Duration
	StartTime   time.Time
}

// New creates the handlers. ctx is cancelled when the server shuts down.
func New(
	ctx context.Context,
	engine rallysync.Engine,
	wsHub *ws.Hub,
	sseBroadcaster *sse.Broadcaster,
	upgrader websocket.Upgrader,
	logger *zerolog.Logger,
	cfg Config,
) *Handlers {
	return &Handlers{
		engine:         engine,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		upgrader:       upgrader,
		logger:         logger,
		ctx:            ctx,
		syncTimeout:    cfg.SyncTimeout,
		startTime:      cfg.StartTime,
	}
}

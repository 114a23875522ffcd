// Package server provides the HTTP API of rallysync: collection status and
// control endpoints plus realtime sync events over WebSocket and SSE.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/server/events/adapters"
	"github.com/agentstation/rallysync/internal/server/middleware"
	"github.com/agentstation/rallysync/internal/server/sse"
	ws "github.com/agentstation/rallysync/internal/server/websocket"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/events"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	engine         rallysync.Engine
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	limiter        *middleware.RateLimiter
	upgrader       websocket.Upgrader
	logger         *zerolog.Logger
	config         Config
	ctx            context.Context
	cancel         context.CancelFunc
	startTime      time.Time

	mu      sync.Mutex
	started bool
	subs    []*events.Subscription
	wg      sync.WaitGroup
}

// New creates a server for engine. Call Start before serving requests.
func New(engine rallysync.Engine, cfg Config, logger *zerolog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.NewConfigError("server", "engine is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = DefaultConfig().PathPrefix
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = DefaultConfig().AuthHeader
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:         engine,
		wsHub:          ws.NewHub(logger),
		sseBroadcaster: sse.NewBroadcaster(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg),
		},
		logger:    logger,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}
	return s, nil
}

// Start runs the realtime transports and attaches them to the engine's
// event bus. It is a no-op after the first call.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.run(s.wsHub.Run)
	s.run(s.sseBroadcaster.Run)
	if s.limiter != nil {
		s.run(s.limiter.Run)
	}

	s.subs = append(s.subs,
		s.engine.AttachSubscriber(adapters.NewWebSocketSubscriber(s.wsHub), s.config.EventBuffer),
		s.engine.AttachSubscriber(adapters.NewSSESubscriber(s.sseBroadcaster), s.config.EventBuffer),
	)
	s.logger.Debug().Msg("Realtime transports attached to the event bus")
}

func (s *Server) run(fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Shutdown detaches from the event bus and stops the realtime transports,
// which closes every open stream. The engine itself is left running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("Server background services stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Server background services shutdown timed out")
		return ctx.Err()
	}
}

// ListenAndServe serves on cfg.Addr until ctx is done, then shuts the
// HTTP server and the background services down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	s.Start()
	httpServer := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		_ = s.Shutdown(context.Background())
		if err != nil {
			return errors.WrapResource("listen", "http server", httpServer.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// streams end first so http.Server.Shutdown does not wait on them
	bgErr := s.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.WrapResource("shutdown", "http server", httpServer.Addr, err)
	}
	return bgErr
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *ws.Hub {
	return s.wsHub
}

// SSEBroadcaster returns the SSE broadcaster.
func (s *Server) SSEBroadcaster() *sse.Broadcaster {
	return s.sseBroadcaster
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}

// checkOrigin admits WebSocket handshakes from the CORS origins when CORS
// is restricted, and from anywhere otherwise.
func checkOrigin(cfg Config) func(*http.Request) bool {
	if !cfg.CORSEnabled || len(cfg.CORSOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(cfg.CORSOrigins))
	for _, o := range cfg.CORSOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

package server

import (
	"context"
	"net/http"

	"github.com/agentstation/rallysync/internal/server/handlers"
	"github.com/agentstation/rallysync/internal/server/middleware"
	"github.com/agentstation/rallysync/internal/server/response"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(
		s.ctx,
		s.engine,
		s.wsHub,
		s.sseBroadcaster,
		s.upgrader,
		s.logger,
		handlers.Config{SyncTimeout: s.config.SyncTimeout, StartTime: s.startTime},
	)

	s.registerRoutes(mux, h)
	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix

	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/ready", h.HandleReady)

	// Collections
	mux.HandleFunc("GET "+prefix+"/collections", h.HandleListCollections)
	mux.HandleFunc("GET "+prefix+"/collections/{name}", h.HandleGetCollection)
	mux.HandleFunc("PATCH "+prefix+"/collections/{name}", h.HandlePatchCollection)
	mux.HandleFunc("POST "+prefix+"/collections/{name}/sync", h.HandleSyncCollection)
	mux.HandleFunc("POST "+prefix+"/collections/{name}/reset", h.HandleResetCollection)
	mux.HandleFunc("POST "+prefix+"/sync", h.HandleSyncAll)

	// Real-time endpoints
	mux.HandleFunc("GET "+prefix+"/events/ws", h.HandleWebSocket)
	mux.HandleFunc("GET "+prefix+"/events/stream", h.HandleSSE)

	// Everything else gets the JSON envelope instead of the mux's plain text
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "Not found", "No route for "+r.Method+" "+r.URL.Path)
	})
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	if s.limiter != nil {
		handler = middleware.RateLimit(s.limiter)(handler)
	}

	if cfg.AuthEnabled {
		authConfig := middleware.DefaultAuthConfig(cfg.APIKey)
		authConfig.HeaderName = cfg.AuthHeader
		authConfig.PublicPaths = []string{"/health", cfg.PathPrefix + "/health", cfg.PathPrefix + "/ready"}
		handler = middleware.Auth(authConfig, s.logger)(handler)
	}

	if cfg.CORSEnabled {
		corsConfig := middleware.DefaultCORSConfig()
		corsConfig.AllowedOrigins = cfg.CORSOrigins
		handler = middleware.CORS(corsConfig)(handler)
	}

	// Logging and recovery (always enabled)
	handler = middleware.Logger(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return withBaseContext(s.ctx, handler)
}

// withBaseContext cancels request contexts when the server shuts down, so
// sync requests waiting on a pass return promptly.
func withBaseContext(base context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(base, cancel)
		defer stop()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

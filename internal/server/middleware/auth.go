package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/internal/server/response"
)

// AuthConfig configures API key authentication.
type AuthConfig struct {
	APIKey      string
	HeaderName  string
	PublicPaths []string
}

// DefaultAuthConfig leaves the health endpoints public.
func DefaultAuthConfig(apiKey string) AuthConfig {
	return AuthConfig{
		APIKey:      apiKey,
		HeaderName:  "X-API-Key",
		PublicPaths: []string{"/health", "/api/v1/health", "/api/v1/ready"},
	}
}

// Auth rejects requests to non-public paths that lack the configured key.
// The key is read from HeaderName or from an Authorization bearer token.
func Auth(cfg AuthConfig, logger *zerolog.Logger) func(http.Handler) http.Handler {
	want := []byte(cfg.APIKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || slices.Contains(cfg.PublicPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			got := apiKey(r, cfg.HeaderName)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Bool("key_provided", got != "").
					Msg("Authentication failed")
				response.Unauthorized(w, "Invalid or missing API key", "Provide a valid API key in the "+cfg.HeaderName+" header")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKey(r *http.Request, header string) string {
	if key := r.Header.Get(header); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

package server

import (
	"fmt"
	"time"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// API settings
	PathPrefix string

	// CORS settings
	CORSEnabled bool
	CORSOrigins []string

	// Authentication settings
	AuthEnabled bool
	AuthHeader  string
	APIKey      string

	// RateLimit is requests per minute per client; 0 disables it.
	RateLimit int

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// SyncTimeout bounds how long sync requests wait for their passes.
	SyncTimeout time.Duration

	// EventBuffer is the bus buffer of each realtime transport.
	EventBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         8080,
		PathPrefix:   "/api/v1",
		AuthHeader:   "X-API-Key",
		RateLimit:    100,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: constants.ShutdownTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		SyncTimeout:  constants.ShutdownTimeout,
		EventBuffer:  constants.ChannelBufferSize,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.NewConfigError("server", fmt.Sprintf("port out of range: %d", c.Port), nil)
	case c.AuthEnabled && c.APIKey == "":
		return errors.NewConfigError("server", "auth is enabled but no API key is configured", nil)
	case c.RateLimit < 0:
		return errors.NewConfigError("server", "rate limit must not be negative", nil)
	}
	return nil
}

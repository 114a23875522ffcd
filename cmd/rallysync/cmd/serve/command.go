// Package serve provides the serve command: the sync engine plus its HTTP
// API with realtime events.
package serve

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/cmd/application"
	"github.com/agentstation/rallysync/internal/cmd/emoji"
	"github.com/agentstation/rallysync/internal/config"
	"github.com/agentstation/rallysync/internal/server"
	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/store"
)

// NewCommand creates the serve command using app context.
func NewCommand(app application.Application) *cobra.Command {
	defaults := server.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		GroupID: "core",
		Short:   "Run the sync engine with its REST API, WebSocket and SSE events",
		Long: `Serve registers every collection of the collections file, keeps them
syncing on their intervals, and exposes them over HTTP:

  GET   /api/v1/collections              statuses and configs
  GET   /api/v1/collections/{name}       one collection
  PATCH /api/v1/collections/{name}       live config update
  POST  /api/v1/collections/{name}/sync  run a pass (?wait=false to detach)
  POST  /api/v1/collections/{name}/reset drop the pull checkpoint
  POST  /api/v1/sync                     run a pass on every collection
  GET   /api/v1/events/ws                sync events over WebSocket
  GET   /api/v1/events/stream            sync events as Server-Sent Events

The collections file is watched and changes are applied without a restart.`,
		Example: `  # Start on default port 8080
  rallysync serve

  # Require an API key and allow a browser origin
  rallysync serve --auth --api-key secret --cors-origins https://app.example.com

  # Serve without hot reload
  rallysync serve --watch=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, app)
		},
	}

	cmd.Flags().Int("port", defaults.Port, "Server port")
	cmd.Flags().String("host", defaults.Host, "Bind address")

	cmd.Flags().Bool("cors", false, "Enable CORS for all origins")
	cmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (comma-separated)")

	cmd.Flags().Bool("auth", false, "Enable API key authentication")
	cmd.Flags().String("auth-header", defaults.AuthHeader, "Authentication header name")
	cmd.Flags().String("api-key", "", "API key clients must send (or RALLYSYNC_API_KEY)")

	cmd.Flags().Int("rate-limit", defaults.RateLimit, "Requests per minute per IP (0 to disable)")

	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", defaults.WriteTimeout, "HTTP write timeout")
	cmd.Flags().Duration("idle-timeout", defaults.IdleTimeout, "HTTP idle timeout")
	cmd.Flags().Duration("sync-timeout", defaults.SyncTimeout, "How long sync requests wait for their pass")

	cmd.Flags().String("prefix", defaults.PathPrefix, "API path prefix")
	cmd.Flags().Bool("watch", true, "Reload the collections file when it changes")

	return cmd
}

func runServer(cmd *cobra.Command, app application.Application) error {
	cfg, err := parseConfig(cmd)
	if err != nil {
		return err
	}
	logger := app.Logger()

	engine, err := app.Engine()
	if err != nil {
		return err
	}

	srv, err := server.New(engine, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("prefix", cfg.PathPrefix).
		Bool("cors", cfg.CORSEnabled).
		Bool("auth", cfg.AuthEnabled).
		Int("rate_limit", cfg.RateLimit).
		Int("collections", len(engine.Collections())).
		Msg("Starting API server")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var wg sync.WaitGroup
	if mustGetBool(cmd, "watch") {
		local, err := app.Store()
		if err != nil {
			return err
		}
		if err := watchCollections(ctx, &wg, app.CollectionsFile(), engine, local, logger); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%s API server listening on %s%s\n", emoji.Success, cfg.Addr(), cfg.PathPrefix)
	_, _ = fmt.Fprintln(out, "   Press Ctrl+C to stop")

	err = srv.ListenAndServe(ctx, constants.ShutdownTimeout)
	cancel()
	wg.Wait()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "%s API server stopped\n", emoji.Stop)
	return nil
}

// watchCollections applies every valid edit of the collections file to
// engine until ctx is done.
func watchCollections(ctx context.Context, wg *sync.WaitGroup, path string, engine rallysync.Engine, local store.Local, logger *zerolog.Logger) error {
	w, err := config.NewWatcher(path, 0, logger)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx, func(colls config.Collections) {
			if err := config.Apply(engine, colls, local); err != nil {
				logger.Warn().Err(err).Msg("Collections file applied with errors")
			}
		})
	}()
	return nil
}

// parseConfig parses command flags into server configuration. HTTP_PORT,
// HTTP_HOST and RALLYSYNC_API_KEY override their flags when set.
func parseConfig(cmd *cobra.Command) (server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.Port = mustGetInt(cmd, "port")
	cfg.Host = mustGetString(cmd, "host")
	cfg.PathPrefix = mustGetString(cmd, "prefix")
	cfg.CORSEnabled = mustGetBool(cmd, "cors")
	cfg.CORSOrigins = mustGetStringSlice(cmd, "cors-origins")
	cfg.AuthEnabled = mustGetBool(cmd, "auth")
	cfg.AuthHeader = mustGetString(cmd, "auth-header")
	cfg.APIKey = mustGetString(cmd, "api-key")
	cfg.RateLimit = mustGetInt(cmd, "rate-limit")
	cfg.ReadTimeout = mustGetDuration(cmd, "read-timeout")
	cfg.WriteTimeout = mustGetDuration(cmd, "write-timeout")
	cfg.IdleTimeout = mustGetDuration(cmd, "idle-timeout")
	cfg.SyncTimeout = mustGetDuration(cmd, "sync-timeout")

	if len(cfg.CORSOrigins) > 0 {
		cfg.CORSEnabled = true
	}
	if envPort := os.Getenv("HTTP_PORT"); envPort != "" {
		p, err := parsePort(envPort)
		if err != nil {
			return cfg, err
		}
		cfg.Port = p
	}
	if envHost := os.Getenv("HTTP_HOST"); envHost != "" {
		cfg.Host = envHost
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("RALLYSYNC_API_KEY")
	}

	return cfg, cfg.Validate()
}

// parsePort safely parses a port string to integer.
func parsePort(portStr string) (int, error) {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, errors.NewValidationError("HTTP_PORT", portStr, "must be a number")
	}
	if port < 1 || port > 65535 {
		return 0, errors.NewValidationError("HTTP_PORT", port, "must be between 1 and 65535")
	}
	return port, nil
}

// mustGetInt retrieves an integer flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// mustGetStringSlice retrieves a string slice flag value or panics if the flag doesn't exist.
func mustGetStringSlice(cmd *cobra.Command, name string) []string {
	val, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// mustGetDuration retrieves a duration flag value or panics if the flag doesn't exist.
func mustGetDuration(cmd *cobra.Command, name string) time.Duration {
	val, err := cmd.Flags().GetDuration(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

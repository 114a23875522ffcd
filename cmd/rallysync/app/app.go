// Package app provides the application context and dependency management
// for the rallysync CLI. It centralizes configuration, logging and the
// lifecycle of the sync engine and its stores.
package app

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/cmd/application"
	"github.com/agentstation/rallysync/internal/cmd/output"
	"github.com/agentstation/rallysync/internal/config"
	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/remote"
	"github.com/agentstation/rallysync/pkg/remote/postgrest"
	"github.com/agentstation/rallysync/pkg/remote/sqlremote"
	"github.com/agentstation/rallysync/pkg/store"
	"github.com/agentstation/rallysync/pkg/store/sqlite"
)

var _ application.Application = (*App)(nil)

// App represents the rallysync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	// lazily created, released by Shutdown
	mu     sync.Mutex
	store  store.Store
	remote remote.Remote
	engine rallysync.Engine
}

// New creates a new App instance with the given version information.
// Configuration is loaded from the environment and the default config
// file; options may replace it.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.config == nil {
		cfg, err := LoadConfig("")
		if err != nil {
			return nil, errors.WrapResource("load", "config", "", err)
		}
		app.config = cfg
	}
	if app.logger == nil {
		logger := NewLogger(app.config)
		app.logger = &logger
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string { return a.version }

// Commit returns the git commit hash.
func (a *App) Commit() string { return a.commit }

// Date returns the build date.
func (a *App) Date() string { return a.date }

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string { return a.builtBy }

// Config returns the application configuration.
func (a *App) Config() *Config { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger { return a.logger }

// OutputFormat returns the requested output format, or a default that
// depends on whether stdout is a terminal.
func (a *App) OutputFormat() string {
	return string(output.DetectFormat(a.config.Format))
}

// CollectionsFile returns the path of the collections file.
func (a *App) CollectionsFile() string { return a.config.CollectionsFile }

// Collections loads the collections file.
func (a *App) Collections() (config.Collections, error) {
	return config.Load(a.config.CollectionsFile)
}

// Store returns the local store, opening it on first use.
func (a *App) Store() (store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openStore()
}

func (a *App) openStore() (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := sqlite.Open(a.config.StorePath)
	if err != nil {
		return nil, errors.WrapResource("open", "store", a.config.StorePath, err)
	}
	a.logger.Debug().Str("path", a.config.StorePath).Msg("Local store opened")
	a.store = s
	return s, nil
}

// Engine returns the sync registry with every collection of the
// collections file registered. The first call creates it; enabled
// collections start syncing right away.
func (a *App) Engine() (rallysync.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine != nil {
		return a.engine, nil
	}

	colls, err := config.Load(a.config.CollectionsFile)
	if err != nil {
		return nil, err
	}
	local, err := a.openStore()
	if err != nil {
		return nil, err
	}
	if a.remote == nil {
		rmt, err := openRemote(a.config, a.logger)
		if err != nil {
			return nil, err
		}
		a.remote = rmt
	}

	registry, err := rallysync.New(a.remote,
		rallysync.WithLogger(a.logger),
		rallysync.WithOperationTimeout(a.config.OperationTimeout),
	)
	if err != nil {
		return nil, errors.WrapResource("create", "registry", "", err)
	}
	if err := config.Apply(registry, colls, local); err != nil {
		_ = registry.Cleanup()
		return nil, err
	}

	a.logger.Debug().Int("collections", len(colls)).Str("file", a.config.CollectionsFile).Msg("Sync engine ready")
	a.engine = registry
	return registry, nil
}

// Shutdown stops the engine and closes the remote and the local store.
// It gives up waiting when ctx is done.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	engine, rmt, local := a.engine, a.remote, a.store
	a.engine, a.remote, a.store = nil, nil, nil
	a.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var errs []error
		if engine != nil {
			if err := engine.Cleanup(); err != nil && !errors.Is(err, errors.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if c, ok := rmt.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := local.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.NewTimeoutError("shutdown", "", "engine did not stop before the deadline")
	}
}

// openRemote picks the backend from the URL scheme: sqlite: and file:
// URLs open a SQL database, anything else is a PostgREST endpoint.
func openRemote(cfg *Config, logger *zerolog.Logger) (remote.Remote, error) {
	url := cfg.RemoteURL
	switch {
	case url == "":
		return nil, errors.NewConfigError("remote", "remote_url is required", nil)
	case strings.HasPrefix(url, "sqlite:"):
		return sqlremote.Open(strings.TrimPrefix(url, "sqlite:"), sqlremote.WithLogger(logger))
	case strings.HasPrefix(url, "file:"):
		return sqlremote.Open(url, sqlremote.WithLogger(logger))
	default:
		return postgrest.New(url,
			postgrest.WithAPIKey(cfg.RemoteAPIKey),
			postgrest.WithSchema(cfg.RemoteSchema),
			postgrest.WithTimeout(constants.DefaultHTTPTimeout),
			postgrest.WithLogger(logger),
		)
	}
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithRemote sets the remote backend instead of opening remote_url.
func WithRemote(rmt remote.Remote) Option {
	return func(a *App) error {
		a.remote = rmt
		return nil
	}
}

// Package application defines the interface commands use to reach the
// application's shared dependencies. The App in cmd/rallysync/app
// implements it; tests use Mock.
package application

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/config"
	"github.com/agentstation/rallysync/pkg/store"
)

// Application is what commands need from the app.
type Application interface {
	// Engine returns the sync registry with the collections file applied,
	// creating it lazily on first use. Adding the collections starts their
	// workers.
	Engine() (rallysync.Engine, error)

	// Store returns the local store shared by every collection.
	Store() (store.Store, error)

	// Collections loads the configured collections file.
	Collections() (config.Collections, error)

	// CollectionsFile returns the path of the collections file.
	CollectionsFile() string

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (table, json, yaml).
	OutputFormat() string

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}

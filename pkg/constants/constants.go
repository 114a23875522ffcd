// Package constants provides shared constants used throughout the rallysync
// codebase. This includes timeouts, limits and sync defaults that should be
// consistent across the engine, the CLI and the API server.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the transport timeout for requests to the remote backend
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultOperationTimeout caps a single network operation of a sync pass.
	// The engine further clamps it below the collection's sync interval.
	DefaultOperationTimeout = 30 * time.Second

	// ShutdownTimeout is how long graceful shutdown may take
	ShutdownTimeout = 30 * time.Second

	// RetryBackoff is the base backoff duration for retries
	RetryBackoff = 1 * time.Second

	// MaxRetryBackoff is the maximum backoff duration for retries
	MaxRetryBackoff = 30 * time.Second

	// ConfigReloadDebounce coalesces bursts of collection file writes
	ConfigReloadDebounce = 250 * time.Millisecond
)

// Sync configuration defaults and bounds
const (
	// DefaultBatchSize is the page size used when a collection does not set one
	DefaultBatchSize = 100

	// MinBatchSize is the smallest allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the largest allowed batch size
	MaxBatchSize = 1000

	// DefaultSyncInterval is the interval used when a collection does not set one
	DefaultSyncInterval = 30 * time.Second

	// MinSyncInterval is the shortest allowed sync interval
	MinSyncInterval = 1 * time.Second

	// DefaultRetryAttempts is the attempt count used when a collection does not set one
	DefaultRetryAttempts = 3

	// MinRetryAttempts is the smallest allowed attempt count
	MinRetryAttempts = 1

	// MaxRetryAttempts is the largest allowed attempt count
	MaxRetryAttempts = 10
)

// Document schema defaults
const (
	// DefaultPrimaryKey is the primary key field name
	DefaultPrimaryKey = "id"

	// DefaultModifiedField is the modified marker field name
	DefaultModifiedField = "_modified"

	// DefaultDeletedField is the soft-delete flag field name
	DefaultDeletedField = "_deleted"
)

// Limit constants define various limits and capacities
const (
	// ChannelBufferSize is the default buffer size of an event subscription
	ChannelBufferSize = 100

	// EventQueueSize is the size of the event bus dispatch queue
	EventQueueSize = 256

	// MaxErrorDocuments caps how many failed document keys are kept in a status message
	MaxErrorDocuments = 10
)

// Logging constants
const (
	// LogMaxSizeMB is the size of a log file before rotation
	LogMaxSizeMB = 10

	// LogMaxBackups is the maximum number of old log files to retain
	LogMaxBackups = 5

	// LogMaxAgeDays is the maximum age of rotated log files
	LogMaxAgeDays = 7
)

// Path constants
const (
	// DefaultStorePath is the default path of the local SQLite store
	DefaultStorePath = "rallysync.db"

	// DefaultCollectionsFile is the default collections configuration file
	DefaultCollectionsFile = "collections.yaml"
)

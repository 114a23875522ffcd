package rallysync

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/logging"
)

// options holds the registry-wide settings.
type options struct {
	logger           *zerolog.Logger
	operationTimeout time.Duration
	backoffBase      time.Duration
	backoffMax       time.Duration
	eventQueueSize   int
	eventBuffer      int
}

func defaults() *options {
	return &options{
		logger:           logging.Default(),
		operationTimeout: constants.DefaultOperationTimeout,
		backoffBase:      constants.RetryBackoff,
		backoffMax:       constants.MaxRetryBackoff,
		eventQueueSize:   constants.EventQueueSize,
		eventBuffer:      constants.ChannelBufferSize,
	}
}

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Option configures a Registry.
type Option func(*options) error

// WithLogger sets the logger used by the registry and its workers.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithOperationTimeout caps a single network operation. Workers further
// clamp it to half of their sync interval.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.NewValidationError("operation_timeout", d.String(), "must be positive")
		}
		o.operationTimeout = d
		return nil
	}
}

// WithBackoff sets the base and cap of the exponential retry backoff.
func WithBackoff(base, maximum time.Duration) Option {
	return func(o *options) error {
		if base <= 0 || maximum < base {
			return errors.NewValidationError("backoff", base.String()+"/"+maximum.String(), "base must be positive and not exceed the cap")
		}
		o.backoffBase = base
		o.backoffMax = maximum
		return nil
	}
}

// WithEventQueue sets the size of the event bus dispatch queue.
func WithEventQueue(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return errors.NewValidationError("event_queue", size, "must be positive")
		}
		o.eventQueueSize = size
		return nil
	}
}

// WithEventBuffer sets the default per-subscription buffer used when
// OnSyncEvent is called with a non-positive size.
func WithEventBuffer(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return errors.NewValidationError("event_buffer", size, "must be positive")
		}
		o.eventBuffer = size
		return nil
	}
}

// collectionOptions holds per-collection settings given to AddCollection.
type collectionOptions struct {
	schema document.Schema
}

// CollectionOption configures a collection at registration.
type CollectionOption func(*collectionOptions)

// WithSchema sets the document schema of a collection. Empty fields take
// the defaults of document.DefaultSchema.
func WithSchema(schema document.Schema) CollectionOption {
	return func(o *collectionOptions) {
		o.schema = schema
	}
}

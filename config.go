package rallysync

import (
	"slices"
	"time"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
)

// CollectionName identifies a synchronized collection. It is the same name
// on the local store and on the remote backend.
type CollectionName string

// String returns the collection name.
func (n CollectionName) String() string {
	return string(n)
}

// SyncConfig is the operator-facing configuration of one collection.
//
// Zero values for BatchSize, SyncInterval and RetryAttempts are replaced
// by the defaults from pkg/constants. Enabled=false means the collection is
// registered but has no worker.
type SyncConfig struct {
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	BatchSize     int            `json:"batch_size" yaml:"batch_size"`
	SyncInterval  time.Duration  `json:"sync_interval" yaml:"sync_interval"`
	RetryAttempts int            `json:"retry_attempts" yaml:"retry_attempts"`
	Filters       []query.Filter `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// DefaultSyncConfig returns an enabled configuration with every default applied.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:       true,
		BatchSize:     constants.DefaultBatchSize,
		SyncInterval:  constants.DefaultSyncInterval,
		RetryAttempts: constants.DefaultRetryAttempts,
	}
}

// WithDefaults returns a copy of c with zero-valued fields defaulted.
func (c SyncConfig) WithDefaults() SyncConfig {
	if c.BatchSize == 0 {
		c.BatchSize = constants.DefaultBatchSize
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = constants.DefaultSyncInterval
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = constants.DefaultRetryAttempts
	}
	return c
}

// Validate checks the bounds of every field and every filter.
func (c SyncConfig) Validate() error {
	var verr error
	switch {
	case c.BatchSize < constants.MinBatchSize || c.BatchSize > constants.MaxBatchSize:
		verr = errors.NewValidationError("batch_size", c.BatchSize, "must be between 1 and 1000")
	case c.SyncInterval < constants.MinSyncInterval:
		verr = errors.NewValidationError("sync_interval", c.SyncInterval.String(), "must be at least 1s")
	case c.RetryAttempts < constants.MinRetryAttempts || c.RetryAttempts > constants.MaxRetryAttempts:
		verr = errors.NewValidationError("retry_attempts", c.RetryAttempts, "must be between 1 and 10")
	default:
		verr = query.ValidateFilters(c.Filters)
	}
	if verr != nil {
		return errors.NewConfigError("sync config", verr.Error(), verr)
	}
	return nil
}

// Clone returns a deep copy of the filter list.
func (c SyncConfig) Clone() SyncConfig {
	c.Filters = slices.Clone(c.Filters)
	return c
}

// ConfigPatch describes a partial config update. Nil fields are unchanged.
type ConfigPatch struct {
	Enabled       *bool           `json:"enabled,omitempty"`
	BatchSize     *int            `json:"batch_size,omitempty"`
	SyncInterval  *time.Duration  `json:"sync_interval,omitempty"`
	RetryAttempts *int            `json:"retry_attempts,omitempty"`
	Filters       *[]query.Filter `json:"filters,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ConfigPatch) IsEmpty() bool {
	return p.Enabled == nil && p.BatchSize == nil && p.SyncInterval == nil &&
		p.RetryAttempts == nil && p.Filters == nil
}

// Apply returns c with the patch applied.
func (p ConfigPatch) Apply(c SyncConfig) SyncConfig {
	c = c.Clone()
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.BatchSize != nil {
		c.BatchSize = *p.BatchSize
	}
	if p.SyncInterval != nil {
		c.SyncInterval = *p.SyncInterval
	}
	if p.RetryAttempts != nil {
		c.RetryAttempts = *p.RetryAttempts
	}
	if p.Filters != nil {
		c.Filters = slices.Clone(*p.Filters)
	}
	return c
}

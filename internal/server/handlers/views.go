package handlers

import (
	"time"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
)

// ConfigView is a SyncConfig with a human-readable interval.
type ConfigView struct {
	Enabled       bool           `json:"enabled"`
	BatchSize     int            `json:"batch_size"`
	SyncInterval  string         `json:"sync_interval"`
	RetryAttempts int            `json:"retry_attempts"`
	Filters       []query.Filter `json:"filters"`
}

// CollectionView is one entry of the collection listing.
type CollectionView struct {
	Name   rallysync.CollectionName `json:"name"`
	Config ConfigView               `json:"config"`
	Status rallysync.SyncStatus     `json:"status"`
}

func newConfigView(cfg rallysync.SyncConfig) ConfigView {
	filters := cfg.Filters
	if filters == nil {
		filters = []query.Filter{}
	}
	return ConfigView{
		Enabled:       cfg.Enabled,
		BatchSize:     cfg.BatchSize,
		SyncInterval:  cfg.SyncInterval.String(),
		RetryAttempts: cfg.RetryAttempts,
		Filters:       filters,
	}
}

// PatchRequest is the body of PATCH /collections/{name}. Omitted fields
// are left unchanged.
type PatchRequest struct {
	Enabled       *bool           `json:"enabled,omitempty"`
	BatchSize     *int            `json:"batch_size,omitempty"`
	SyncInterval  *string         `json:"sync_interval,omitempty"`
	RetryAttempts *int            `json:"retry_attempts,omitempty"`
	Filters       *[]query.Filter `json:"filters,omitempty"`
}

// ConfigPatch converts the request into an engine patch.
func (p PatchRequest) ConfigPatch() (rallysync.ConfigPatch, error) {
	patch := rallysync.ConfigPatch{
		Enabled:       p.Enabled,
		BatchSize:     p.BatchSize,
		RetryAttempts: p.RetryAttempts,
		Filters:       p.Filters,
	}
	if p.SyncInterval != nil {
		d, err := time.ParseDuration(*p.SyncInterval)
		if err != nil {
			return rallysync.ConfigPatch{}, errors.NewValidationError("sync_interval", *p.SyncInterval, "not a duration")
		}
		patch.SyncInterval = &d
	}
	return patch, nil
}

// SyncAllView is the result of POST /sync.
type SyncAllView struct {
	Statuses map[rallysync.CollectionName]rallysync.SyncStatus `json:"statuses"`
	Failed   []rallysync.CollectionName                        `json:"failed"`
}

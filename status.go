package rallysync

import (
	"sync"

	"github.com/agentstation/utc"
)

// Status is the state of a collection's most recent sync pass.
type Status string

// Sync states.
const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether a pass in this state has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// SyncStatus is a read-only snapshot of one collection's sync state.
type SyncStatus struct {
	Collection CollectionName `json:"collection" yaml:"collection"`
	Status     Status         `json:"status" yaml:"status"`
	Progress   *int           `json:"progress,omitempty" yaml:"progress,omitempty"`
	LastSynced *utc.Time      `json:"last_synced,omitempty" yaml:"last_synced,omitempty"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func (s SyncStatus) clone() SyncStatus {
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	if s.LastSynced != nil {
		t := *s.LastSynced
		s.LastSynced = &t
	}
	return s
}

// statusCell holds a collection's status. It outlives the collection's
// worker so a disabled collection still reports its last pass.
type statusCell struct {
	mu     sync.RWMutex
	status SyncStatus
}

func newStatusCell(name CollectionName) *statusCell {
	return &statusCell{status: SyncStatus{Collection: name, Status: StatusIdle}}
}

func (c *statusCell) get() SyncStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.clone()
}

func (c *statusCell) update(fn func(*SyncStatus)) SyncStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
	return c.status.clone()
}

func (c *statusCell) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = SyncStatus{Collection: c.status.Collection, Status: StatusIdle}
}

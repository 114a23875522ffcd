// Package events is the in-process publish/subscribe channel that carries
// sync lifecycle events from collection workers to observers.
//
// Delivery is at-most-once per subscriber from the moment it subscribes.
// Events are not queued for late subscribers, and a subscriber whose buffer
// is full misses events rather than stalling the publisher.
package events

import (
	"github.com/agentstation/utc"
	"github.com/google/uuid"
)

// Type is the kind of a sync event.
type Type string

// Sync event types.
const (
	SyncStarted   Type = "sync-started"
	SyncProgress  Type = "sync-progress"
	SyncCompleted Type = "sync-completed"
	SyncError     Type = "sync-error"
)

// Types returns every event type.
func Types() []Type {
	return []Type{SyncStarted, SyncProgress, SyncCompleted, SyncError}
}

// Event is an immutable fact about one collection's sync pass.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	Collection string    `json:"collection"`
	Timestamp  utc.Time  `json:"timestamp"`
	Progress   *int      `json:"progress,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// New returns an event of type t for collection stamped with the current
// time.
func New(t Type, collection string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Collection: collection,
		Timestamp:  utc.Now(),
	}
}

// WithProgress returns a copy of e carrying a progress percentage.
func (e Event) WithProgress(percent int) Event {
	e.Progress = &percent
	return e
}

// WithError returns a copy of e carrying an error message.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

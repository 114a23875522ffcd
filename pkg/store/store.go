// Package store defines the local document store the sync engine reads
// from and writes to.
//
// The engine is agnostic to how a store is implemented as long as it is
// safe for concurrent use by every collection worker. Two implementations
// ship with the module: memory (maps behind a mutex) and sqlite (an
// embedded on-disk database).
package store

import (
	"context"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/query"
)

// Local is the local store contract consumed by collection workers.
type Local interface {
	// Query returns the live documents of collection that satisfy every
	// predicate. Locally deleted documents are not returned.
	Query(ctx context.Context, collection string, preds []query.Predicate) ([]document.Document, error)

	// Upsert stores the remote state of a document under key. The remote
	// wins: any pending local write for key is discarded.
	Upsert(ctx context.Context, collection, key string, doc document.Document) error

	// Pending enumerates local writes not yet acknowledged by the remote,
	// oldest first.
	Pending(ctx context.Context, collection string) ([]document.Change, error)

	// MarkSynced acknowledges the pending write for key up to revision. A
	// newer write made after revision stays pending.
	MarkSynced(ctx context.Context, collection, key string, revision int64) error

	// Checkpoint returns the highest modified marker pulled so far, or nil
	// when the collection has never been pulled.
	Checkpoint(ctx context.Context, collection string) (any, error)

	// SaveCheckpoint records the pull checkpoint. A nil value clears it.
	SaveCheckpoint(ctx context.Context, collection string, value any) error
}

// Writer is the application-facing side of a store: writes made through
// it are recorded as pending for the next push.
type Writer interface {
	// Put creates or replaces a document and returns its new revision.
	Put(ctx context.Context, collection, key string, doc document.Document) (int64, error)

	// Delete removes a document locally and queues the remote delete.
	Delete(ctx context.Context, collection, key string) (int64, error)

	// Get returns a live document by key.
	Get(ctx context.Context, collection, key string) (document.Document, bool, error)
}

// Store is a full local store.
type Store interface {
	Local
	Writer
}

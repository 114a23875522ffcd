// Package remote defines the backend the sync engine replicates to.
//
// A backend accepts the predicate IR of pkg/query as its filter language,
// returns paged record sets, and exposes insert, update and delete. It must
// surface unique-constraint violations as *errors.APIError with
// Code == errors.ConflictCode so the engine can tell conflicts apart from
// other rejected writes.
package remote

import (
	"context"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/query"
)

// Remote is the remote backend contract consumed by collection workers.
type Remote interface {
	// Query returns one page of records of q.Collection.
	Query(ctx context.Context, q query.Query) (Page, error)

	// Insert creates a record and returns the stored representation.
	Insert(ctx context.Context, collection string, doc document.Document) (document.Document, error)

	// Update replaces the record identified by key. It returns an error
	// satisfying errors.IsNotFound when no such record exists.
	Update(ctx context.Context, collection string, key Key, doc document.Document) (document.Document, error)

	// Delete removes the record identified by key. It returns an error
	// satisfying errors.IsNotFound when no such record exists.
	Delete(ctx context.Context, collection string, key Key) error
}

// Page is one result page.
type Page struct {
	Records []document.Document

	// Total is the number of records matching the query ignoring paging,
	// or -1 when the backend did not report it.
	Total int
}

// UnknownTotal marks a page without a row count.
const UnknownTotal = -1

// Key identifies a record by its primary key. Value is the key's string
// form as produced by document.KeyString.
type Key struct {
	Field string
	Value string
}

// String renders the key as field=value.
func (k Key) String() string {
	return k.Field + "=" + k.Value
}

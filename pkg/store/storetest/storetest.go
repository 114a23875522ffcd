// Package storetest holds the behavioral test suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/store"
)

// Run exercises a store created fresh for every subtest by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PutRecordsPendingInsert", testPutRecordsPendingInsert},
		{"MarkSyncedThenUpdate", testMarkSyncedThenUpdate},
		{"NewerRevisionStaysPending", testNewerRevisionStaysPending},
		{"UpsertDiscardsPending", testUpsertDiscardsPending},
		{"DeleteQueuesTombstone", testDeleteQueuesTombstone},
		{"QueryFilters", testQueryFilters},
		{"Checkpoint", testCheckpoint},
		{"CollectionsAreIsolated", testCollectionsAreIsolated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func team(id, name, status string) document.Document {
	return document.Document{"id": id, "name": name, "status": status, "_modified": float64(1)}
}

func testPutRecordsPendingInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	rev, err := s.Put(ctx, "teams", "t1", team("t1", "Hawks", "active"))
	require.NoError(t, err)
	assert.Positive(t, rev)

	pending, err := s.Pending(ctx, "teams")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, document.OpInsert, pending[0].Op)
	assert.Equal(t, "t1", pending[0].Key)
	assert.Equal(t, rev, pending[0].Revision)
	assert.Equal(t, "Hawks", pending[0].Doc["name"])

	doc, ok, err := s.Get(ctx, "teams", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "active", doc["status"])

	_, err = s.Put(ctx, "teams", "", team("", "x", "y"))
	assert.True(t, errors.IsValidationError(err))
}

func testMarkSyncedThenUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	rev, err := s.Put(ctx, "teams", "t1", team("t1", "Hawks", "active"))
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, "teams", "t1", rev))

	pending, err := s.Pending(ctx, "teams")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.Put(ctx, "teams", "t1", team("t1", "Harbor Hawks", "active"))
	require.NoError(t, err)
	pending, err = s.Pending(ctx, "teams")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, document.OpUpdate, pending[0].Op)

	err = s.MarkSynced(ctx, "teams", "missing", 1)
	assert.True(t, errors.IsNotFound(err))
}

func testNewerRevisionStaysPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	first, err := s.Put(ctx, "teams", "t1", team("t1", "Hawks", "active"))
	require.NoError(t, err)
	second, err := s.Put(ctx, "teams", "t1", team("t1", "Hawks II", "active"))
	require.NoError(t, err)
	assert.Greater(t, second, first)

	require.NoError(t, s.MarkSynced(ctx, "teams", "t1", first))
	pending, err := s.Pending(ctx, "teams")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].Revision)
	assert.Equal(t, "Hawks II", pending[0].Doc["name"])
}

func testUpsertDiscardsPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Put(ctx, "teams", "t1", team("t1", "Local", "active"))
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, "teams", "t1", team("t1", "Remote", "active")))

	pending, err := s.Pending(ctx, "teams")
	require.NoError(t, err)
	assert.Empty(t, pending)

	doc, ok, err := s.Get(ctx, "teams", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Remote", doc["name"])

	// Once the remote has the key, a local edit is an update.
	_, err = s.Put(ctx, "teams", "t1", team("t1", "Edited", "active"))
	require.NoError(t, err)
	pending, err = s.Pending(ctx, "teams")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, document.OpUpdate, pending[0].Op)
}

func testDeleteQueuesTombstone(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "teams", "t1", team("t1", "Hawks", "active")))

	rev, err := s.Delete(ctx, "teams", "t1")
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "teams", "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	docs, err := s.Query(ctx, "teams", nil)
	require.NoError(t, err)
	assert.Empty(t, docs)

	pending, err := s.Pending(ctx, "teams")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, document.OpDelete, pending[0].Op)
	assert.Nil(t, pending[0].Doc)

	require.NoError(t, s.MarkSynced(ctx, "teams", "t1", rev))
	pending, err = s.Pending(ctx, "teams")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.Delete(ctx, "teams", "t1")
	assert.True(t, errors.IsNotFound(err))
}

func testQueryFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "teams", "t1", team("t1", "Harbor Hawks", "active")))
	require.NoError(t, s.Upsert(ctx, "teams", "t2", team("t2", "Dune Owls", "archived")))
	require.NoError(t, s.Upsert(ctx, "teams", "t3", team("t3", "Bay Hawks", "active")))

	docs, err := s.Query(ctx, "teams", []query.Predicate{
		query.Equal("status", "active"),
		query.Like{Field: "name", Substring: "HAWK"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "t1", docs[0]["id"])
	assert.Equal(t, "t3", docs[1]["id"])

	docs, err = s.Query(ctx, "teams", []query.Predicate{query.InSet{Field: "id", Values: []any{"t2", "t9"}}})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, err = s.Query(ctx, "teams", []query.Predicate{query.IsNull("coach")})
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func testCheckpoint(t *testing.T, s store.Store) {
	ctx := context.Background()
	cp, err := s.Checkpoint(ctx, "teams")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.SaveCheckpoint(ctx, "teams", float64(42)))
	cp, err = s.Checkpoint(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, float64(42), cp)

	require.NoError(t, s.SaveCheckpoint(ctx, "teams", "2024-05-01T00:00:00Z"))
	cp, err = s.Checkpoint(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T00:00:00Z", cp)

	require.NoError(t, s.SaveCheckpoint(ctx, "teams", nil))
	cp, err = s.Checkpoint(ctx, "teams")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func testCollectionsAreIsolated(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Put(ctx, "teams", "x", team("x", "Hawks", "active"))
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, "matches", "x", document.Document{"id": "x"}))

	pending, err := s.Pending(ctx, "matches")
	require.NoError(t, err)
	assert.Empty(t, pending)

	docs, err := s.Query(ctx, "teams", nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Hawks", docs[0]["name"])
}

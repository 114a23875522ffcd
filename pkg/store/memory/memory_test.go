package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/store"
	"github.com/agentstation/rallysync/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Upsert(ctx, "teams", "t1", document.Document{"id": "t1", "name": "Hawks"}))

	doc, ok, err := s.Get(ctx, "teams", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	doc["name"] = "mutated"

	again, _, err := s.Get(ctx, "teams", "t1")
	require.NoError(t, err)
	assert.Equal(t, "Hawks", again["name"])
	assert.Equal(t, 1, s.Len("teams"))
	assert.Equal(t, 0, s.Len("matches"))
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Query(ctx, "teams", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

package rallysync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/events"
	"github.com/agentstation/rallysync/pkg/logging"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote/remotetest"
	"github.com/agentstation/rallysync/pkg/remote/sqlremote"
	"github.com/agentstation/rallysync/pkg/store/memory"
	"github.com/agentstation/rallysync/pkg/store/sqlite"
)

// teams returns 120 active and 10 archived teams. Active teams carry the
// highest modified markers.
func teams() []document.Document {
	docs := make([]document.Document, 0, 130)
	for i := range 130 {
		status := "active"
		if i >= 120 {
			status = "archived"
		}
		docs = append(docs, document.Document{
			"id":        fmt.Sprintf("team-%03d", i),
			"name":      fmt.Sprintf("Team %d", i),
			"status":    status,
			"rank":      i + 1,
			"_modified": 1000 + i%120,
			"_deleted":  false,
		})
	}
	return docs
}

func TestTeamsScenario(t *testing.T) {
	rmt := remotetest.New()
	rmt.Seed("teams", teams()...)
	reg := newTestRegistry(t, rmt)
	local := memory.New()
	ctx := context.Background()

	sub := reg.OnSyncEvent(64)
	defer sub.Unsubscribe()

	cfg := testConfig(query.Filter{Field: "status", Operator: query.Eq, Value: "active"})
	require.NoError(t, reg.AddCollection("teams", local, cfg))

	var progress []int
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e := <-sub.Events():
			switch e.Type {
			case events.SyncProgress:
				progress = append(progress, *e.Progress)
			case events.SyncCompleted:
				done = true
			case events.SyncError:
				t.Fatalf("sync failed: %s", e.Error)
			}
		case <-timeout:
			t.Fatal("scenario did not complete")
		}
	}

	assert.Equal(t, []int{33, 66, 100}, progress)
	assert.Equal(t, 120, local.Len("teams"))
	assert.Equal(t, 3, rmt.Calls(remotetest.OpQuery, "teams"), "120 rows in pages of 50")
	assert.Zero(t, rmt.Mutations("teams"))

	st := reg.GetSyncStatus("teams")
	require.NotNil(t, st)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.NotNil(t, st.LastSynced)

	cp, err := local.Checkpoint(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, 1119, cp)

	docs, err := local.Query(ctx, "teams", []query.Predicate{query.Equal("status", "archived")})
	require.NoError(t, err)
	assert.Empty(t, docs)

	// an incremental pass only asks for rows from the checkpoint on
	rmt.ResetCalls()
	rmt.Seed("teams", document.Document{"id": "team-200", "name": "Expansion", "status": "active", "_modified": 2000})
	st2, err := reg.SyncCollection(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st2.Status)
	assert.Equal(t, 121, local.Len("teams"))
	assert.Equal(t, 1, rmt.Calls(remotetest.OpQuery, "teams"))

	// after a reset the next pass pulls everything again
	require.NoError(t, reg.ResetCollection(ctx, "teams"))
	rmt.ResetCalls()
	_, err = reg.SyncCollection(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, 3, rmt.Calls(remotetest.OpQuery, "teams"))
}

func TestSQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()

	rmt, err := sqlremote.Open(":memory:", sqlremote.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmt.Close() })
	_, err = rmt.DB().Exec(`CREATE TABLE teams (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		status    TEXT,
		rank      INTEGER,
		_modified INTEGER,
		_deleted  BOOLEAN
	)`)
	require.NoError(t, err)
	for _, d := range teams() {
		_, err := rmt.Insert(ctx, "teams", d)
		require.NoError(t, err)
	}

	local, err := sqlite.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	reg := newTestRegistry(t, rmt)
	sub := reg.OnSyncEvent(64)
	defer sub.Unsubscribe()
	require.NoError(t, reg.AddCollection("teams", local, testConfig(activeOnly)))
	require.Equal(t, events.SyncCompleted, awaitTerminal(t, sub, "teams").Type)

	docs, err := local.Query(ctx, "teams", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 120)

	// a local edit round-trips, and a second pass sends nothing new
	_, err = local.Put(ctx, "teams", "team-007", document.Document{
		"id": "team-007", "name": "Lucky Sevens", "status": "active", "rank": 8, "_modified": 5000, "_deleted": false,
	})
	require.NoError(t, err)
	_, err = local.Put(ctx, "teams", "team-500", document.Document{
		"id": "team-500", "name": "Newcomers", "status": "archived", "rank": 500, "_modified": 5001, "_deleted": false,
	})
	require.NoError(t, err)

	st, err := reg.SyncCollection(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)

	page, err := rmt.Query(ctx, query.Query{
		Collection: "teams",
		Where:      []query.Predicate{query.InSet{Field: "id", Values: []any{"team-007", "team-500"}}},
		OrderBy:    []query.Order{{Field: "id"}},
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "Lucky Sevens", page.Records[0]["name"])
	assert.Equal(t, "Newcomers", page.Records[1]["name"])

	pendingChanges, err := local.Pending(ctx, "teams")
	require.NoError(t, err)
	assert.Empty(t, pendingChanges)

	st, err = reg.SyncCollection(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
}

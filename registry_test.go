package rallysync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/events"
	"github.com/agentstation/rallysync/pkg/logging"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote"
	"github.com/agentstation/rallysync/pkg/remote/remotetest"
	"github.com/agentstation/rallysync/pkg/store/memory"
)

func newTestRegistry(t *testing.T, rmt remote.Remote, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.NewNopLogger()),
		WithBackoff(time.Millisecond, 4*time.Millisecond),
	}, opts...)
	reg, err := New(rmt, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Cleanup() })
	return reg
}

// testConfig never ticks during a test, so only registration and explicit
// calls start passes.
func testConfig(filters ...query.Filter) SyncConfig {
	return SyncConfig{
		Enabled:       true,
		BatchSize:     50,
		SyncInterval:  time.Hour,
		RetryAttempts: 3,
		Filters:       filters,
	}
}

// awaitTerminal returns the next sync-completed or sync-error event for name.
func awaitTerminal(t *testing.T, sub *events.Subscription, name CollectionName) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-sub.Events():
			require.True(t, ok, "subscription closed")
			if e.Collection == string(name) && (e.Type == events.SyncCompleted || e.Type == events.SyncError) {
				return e
			}
		case <-timeout:
			t.Fatalf("no terminal event for %s", name)
			return events.Event{}
		}
	}
}

// addAndSettle registers a collection and waits for its initial pass.
func addAndSettle(t *testing.T, reg *Registry, name CollectionName, local *memory.Store, cfg SyncConfig, opts ...CollectionOption) events.Event {
	t.Helper()
	sub := reg.OnSyncEvent(64)
	defer sub.Unsubscribe()
	require.NoError(t, reg.AddCollection(name, local, cfg, opts...))
	return awaitTerminal(t, sub, name)
}

func TestNewRequiresRemote(t *testing.T) {
	_, err := New(nil)
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = New(remotetest.New(), WithBackoff(time.Second, time.Millisecond))
	require.ErrorAs(t, err, &cfgErr)
}

func TestAddCollectionRejectsInvalidConfig(t *testing.T) {
	reg := newTestRegistry(t, remotetest.New())
	local := memory.New()

	tests := []struct {
		name string
		cfg  SyncConfig
	}{
		{"batch too large", SyncConfig{Enabled: true, BatchSize: 1001}},
		{"negative batch", SyncConfig{Enabled: true, BatchSize: -1}},
		{"interval too short", SyncConfig{Enabled: true, SyncInterval: 10 * time.Millisecond}},
		{"too many attempts", SyncConfig{Enabled: true, RetryAttempts: 11}},
		{"invalid operator", SyncConfig{Enabled: true, Filters: []query.Filter{{Field: "status", Operator: query.Operator(99), Value: "x"}}}},
		{"in without values", SyncConfig{Enabled: true, Filters: []query.Filter{{Field: "id", Operator: query.In, Value: []any{}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.AddCollection("teams", local, tt.cfg)
			var cfgErr *errors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Nil(t, reg.GetSyncStatus("teams"))
		})
	}

	err := reg.AddCollection("", local, testConfig())
	assert.Error(t, err)
	err = reg.AddCollection("teams", nil, testConfig())
	assert.Error(t, err)
	err = reg.AddCollection("teams", local, testConfig(), WithSchema(document.Schema{PrimaryKey: "_deleted"}))
	assert.Error(t, err)
}

func TestUnregisteredCollection(t *testing.T) {
	reg := newTestRegistry(t, remotetest.New())
	ctx := context.Background()

	assert.Nil(t, reg.GetSyncStatus("ghost"))
	assert.True(t, errors.IsNotFound(reg.RemoveCollection("ghost")))
	assert.True(t, errors.IsNotFound(reg.UpdateConfig("ghost", ConfigPatch{})))
	assert.True(t, errors.IsNotFound(reg.ResetCollection(ctx, "ghost")))
	_, err := reg.SyncCollection(ctx, "ghost")
	var nf *errors.NotFoundError
	assert.ErrorAs(t, err, &nf)
	_, err = reg.Config("ghost")
	assert.True(t, errors.IsNotFound(err))
}

func TestAddCollectionDefaultsAndStatus(t *testing.T) {
	reg := newTestRegistry(t, remotetest.New())

	e := addAndSettle(t, reg, "teams", memory.New(), SyncConfig{Enabled: true, SyncInterval: time.Hour})
	assert.Equal(t, events.SyncCompleted, e.Type)

	cfg, err := reg.Config("teams")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 3, cfg.RetryAttempts)

	st := reg.GetSyncStatus("teams")
	require.NotNil(t, st)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, CollectionName("teams"), st.Collection)
	require.NotNil(t, st.LastSynced)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 100, *st.Progress)
	assert.Empty(t, st.Error)

	assert.Equal(t, []CollectionName{"teams"}, reg.Collections())
}

func TestAddCollectionIsUpsert(t *testing.T) {
	rmt := remotetest.New()
	reg := newTestRegistry(t, rmt)
	local := memory.New()

	addAndSettle(t, reg, "teams", local, testConfig())
	before := reg.GetSyncStatus("teams")
	queries := rmt.Calls(remotetest.OpQuery, "teams")

	cfg := testConfig()
	cfg.BatchSize = 10
	require.NoError(t, reg.AddCollection("teams", local, cfg))

	got, err := reg.Config("teams")
	require.NoError(t, err)
	assert.Equal(t, 10, got.BatchSize)
	assert.Equal(t, before.LastSynced, reg.GetSyncStatus("teams").LastSynced)
	// replacing the config only restarts the timer
	assert.Equal(t, queries, rmt.Calls(remotetest.OpQuery, "teams"))
	assert.Len(t, reg.Collections(), 1)
}

func TestDisabledCollectionHasNoWorker(t *testing.T) {
	rmt := remotetest.New()
	reg := newTestRegistry(t, rmt)

	cfg := testConfig()
	cfg.Enabled = false
	require.NoError(t, reg.AddCollection("teams", memory.New(), cfg))

	st := reg.GetSyncStatus("teams")
	require.NotNil(t, st)
	assert.Equal(t, StatusIdle, st.Status)

	_, err := reg.SyncCollection(context.Background(), "teams")
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, rmt.Calls(remotetest.OpQuery, ""))

	statuses, err := reg.SyncAllCollections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestUpdateConfigDisableTearsDown(t *testing.T) {
	rmt := remotetest.New()
	reg := newTestRegistry(t, rmt)
	local := memory.New()
	ctx := context.Background()

	addAndSettle(t, reg, "teams", local, testConfig())

	disabled := false
	require.NoError(t, reg.UpdateConfig("teams", ConfigPatch{Enabled: &disabled}))

	_, err := local.Put(ctx, "teams", "t1", document.Document{"id": "t1", "name": "Hawks"})
	require.NoError(t, err)

	calls := rmt.Calls("", "teams")
	_, err = reg.SyncCollection(ctx, "teams")
	require.Error(t, err)
	assert.Equal(t, calls, rmt.Calls("", "teams"), "disabled collection must not touch the remote")
	assert.NotNil(t, reg.GetSyncStatus("teams"), "disabled collection stays registered")

	// a torn-down worker is not revived by a config patch
	enabled := true
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, reg.UpdateConfig("teams", ConfigPatch{Enabled: &enabled}), &cfgErr)
	assert.Equal(t, calls, rmt.Calls("", "teams"))

	// registering again starts a worker whose initial pass pushes the write
	sub := reg.OnSyncEvent(64)
	defer sub.Unsubscribe()
	require.NoError(t, reg.AddCollection("teams", local, testConfig()))
	e := awaitTerminal(t, sub, "teams")
	assert.Equal(t, events.SyncCompleted, e.Type)

	_, ok := rmt.Get("teams", "t1")
	assert.True(t, ok)
}

func TestUpdateConfigValidates(t *testing.T) {
	reg := newTestRegistry(t, remotetest.New())
	addAndSettle(t, reg, "teams", memory.New(), testConfig())

	huge := 5000
	err := reg.UpdateConfig("teams", ConfigPatch{BatchSize: &huge})
	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	cfg, err := reg.Config("teams")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.BatchSize, "rejected patch leaves config unchanged")

	small := 5
	filters := []query.Filter{{Field: "status", Operator: query.Eq, Value: "active"}}
	require.NoError(t, reg.UpdateConfig("teams", ConfigPatch{BatchSize: &small, Filters: &filters}))
	cfg, err = reg.Config("teams")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, filters, cfg.Filters)
}

func TestRemoveCollection(t *testing.T) {
	reg := newTestRegistry(t, remotetest.New())
	addAndSettle(t, reg, "teams", memory.New(), testConfig())

	require.NoError(t, reg.RemoveCollection("teams"))
	assert.Nil(t, reg.GetSyncStatus("teams"))
	assert.Empty(t, reg.Collections())
	assert.True(t, errors.IsNotFound(reg.RemoveCollection("teams")))
}

func TestResetCollection(t *testing.T) {
	rmt := remotetest.New()
	rmt.Seed("teams", document.Document{"id": "t1", "name": "Hawks", "_modified": 7})
	reg := newTestRegistry(t, rmt)
	local := memory.New()
	ctx := context.Background()

	addAndSettle(t, reg, "teams", local, testConfig())
	cp, err := local.Checkpoint(ctx, "teams")
	require.NoError(t, err)
	assert.Equal(t, 7, cp)

	require.NoError(t, reg.ResetCollection(ctx, "teams"))
	cp, err = local.Checkpoint(ctx, "teams")
	require.NoError(t, err)
	assert.Nil(t, cp)

	st := reg.GetSyncStatus("teams")
	require.NotNil(t, st)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Nil(t, st.LastSynced)
}

func TestSyncAllCollections(t *testing.T) {
	rmt := remotetest.New()
	rmt.Seed("teams", document.Document{"id": "t1", "name": "Hawks"})
	rmt.Seed("players", document.Document{"id": "p1", "name": "Ada"})
	reg := newTestRegistry(t, rmt)

	for _, name := range []CollectionName{"teams", "players", "venues"} {
		addAndSettle(t, reg, name, memory.New(), testConfig())
	}
	rmt.Fail(remotetest.OpQuery, "venues", remotetest.Unavailable(), 0)

	statuses, err := reg.SyncAllCollections(context.Background())
	require.Error(t, err)
	var syncErr *errors.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "venues", syncErr.Collection)

	require.Len(t, statuses, 3)
	assert.Equal(t, StatusCompleted, statuses["teams"].Status)
	assert.Equal(t, StatusCompleted, statuses["players"].Status)
	assert.Equal(t, StatusError, statuses["venues"].Status)
	assert.Contains(t, statuses["venues"].Error, "pull")

	all := reg.Statuses()
	require.Len(t, all, 3)
	assert.Equal(t, CollectionName("players"), all[0].Collection)
}

func TestLateSubscriberSeesOnlyFutureEvents(t *testing.T) {
	reg := newTestRegistry(t, remotetest.New())
	addAndSettle(t, reg, "teams", memory.New(), testConfig())

	sub := reg.OnSyncEvent(16)
	defer sub.Unsubscribe()
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected replayed event %s", e.Type)
	case <-time.After(20 * time.Millisecond):
	}

	_, err := reg.SyncCollection(context.Background(), "teams")
	require.NoError(t, err)

	e := <-sub.Events()
	assert.Equal(t, events.SyncStarted, e.Type)
	assert.Equal(t, "teams", e.Collection)
	assert.NotEqual(t, uuid.Nil, e.ID)
}

func TestCleanup(t *testing.T) {
	reg, err := New(remotetest.New(), WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	sub := reg.OnSyncEvent(16)
	require.NoError(t, reg.AddCollection("teams", memory.New(), testConfig()))
	awaitTerminal(t, sub, "teams")

	require.NoError(t, reg.Cleanup())
	assert.ErrorIs(t, reg.Cleanup(), errors.ErrClosed)

	// subscription channels are closed
	for range sub.Events() {
	}

	assert.ErrorIs(t, reg.AddCollection("teams", memory.New(), testConfig()), errors.ErrClosed)
	_, err = reg.SyncCollection(context.Background(), "teams")
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = reg.SyncAllCollections(context.Background())
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.Nil(t, reg.GetSyncStatus("teams"))

	late := reg.OnSyncEvent(1)
	_, open := <-late.Events()
	assert.False(t, open)
}

func TestSyncCollectionHonorsContext(t *testing.T) {
	rmt := remotetest.New()
	reg := newTestRegistry(t, rmt)
	addAndSettle(t, reg, "teams", memory.New(), testConfig())

	rmt.AddFault(&remotetest.Fault{Op: remotetest.OpQuery, Collection: "teams", Hang: true})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	st, err := reg.SyncCollection(ctx, "teams")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusSyncing, st.Status)
}

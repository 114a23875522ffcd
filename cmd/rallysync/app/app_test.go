package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/logging"
	"github.com/agentstation/rallysync/pkg/remote/postgrest"
	"github.com/agentstation/rallysync/pkg/remote/remotetest"
	"github.com/agentstation/rallysync/pkg/remote/sqlremote"
)

const collectionsYAML = `collections:
  - name: teams
    batch_size: 10
    sync_interval: 1h
  - name: players
    enabled: false
`

func newTestApp(t *testing.T) (*App, *remotetest.Remote) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "collections.yaml")
	require.NoError(t, os.WriteFile(path, []byte(collectionsYAML), 0o600))

	rmt := remotetest.New()
	rmt.Seed("teams",
		document.Document{"id": "t1", "name": "Falcons", "_modified": 1},
		document.Document{"id": "t2", "name": "Owls", "_modified": 2},
	)

	app, err := New("1.2.3", "abc123", "2025-01-01", "test",
		WithConfig(&Config{
			StorePath:        filepath.Join(dir, "local.db"),
			CollectionsFile:  path,
			OperationTimeout: time.Second,
		}),
		WithLogger(logging.NewNopLogger()),
		WithRemote(rmt),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app, rmt
}

func TestNew(t *testing.T) {
	app, _ := newTestApp(t)

	assert.Equal(t, "1.2.3", app.Version())
	assert.Equal(t, "abc123", app.Commit())
	assert.Equal(t, "2025-01-01", app.Date())
	assert.Equal(t, "test", app.BuiltBy())
	assert.NotNil(t, app.Logger())
	assert.NotNil(t, app.Config())
}

func TestEngineIsSingleton(t *testing.T) {
	app, _ := newTestApp(t)

	e1, err := app.Engine()
	require.NoError(t, err)
	e2, err := app.Engine()
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	assert.ElementsMatch(t, []rallysync.CollectionName{"teams", "players"}, e1.Collections())
}

func TestEngineReportsBadCollectionsFile(t *testing.T) {
	app, _ := newTestApp(t)
	require.NoError(t, os.WriteFile(app.CollectionsFile(), []byte("collections:\n  - name: teams\n    retry_attempts: 99\n"), 0o600))

	_, err := app.Engine()
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestExecuteSyncAndStatus(t *testing.T) {
	app, _ := newTestApp(t)
	original := *logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })

	run := func(args ...string) []byte {
		t.Helper()
		root := app.createRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(args)
		require.NoError(t, root.ExecuteContext(context.Background()))
		return out.Bytes()
	}

	var statuses []rallysync.SyncStatus
	require.NoError(t, json.Unmarshal(run("sync", "-o", "json"), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, rallysync.StatusCompleted, statuses[0].Status)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(run("status", "-o", "json"), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "teams", rows[0]["name"])
	assert.NotNil(t, rows[0]["checkpoint"], "the pull checkpoint is persisted")
	assert.Nil(t, rows[1]["checkpoint"])

	assert.Equal(t, "rallysync 1.2.3\n", string(run("version")))

	// the command logger becomes the process default
	run("version", "--log-level", "error")
	assert.Equal(t, zerolog.ErrorLevel, logging.Default().GetLevel())
}

func TestExecuteRejectsBadFormat(t *testing.T) {
	app, _ := newTestApp(t)
	root := app.createRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"status", "-o", "xml"})
	assert.Error(t, root.Execute())
}

func TestShutdownReleasesEverything(t *testing.T) {
	app, _ := newTestApp(t)
	engine, err := app.Engine()
	require.NoError(t, err)

	require.NoError(t, app.Shutdown(context.Background()))
	assert.ErrorIs(t, engine.Cleanup(), errors.ErrClosed)
	// a second shutdown has nothing left to release
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestOpenRemote(t *testing.T) {
	logger := logging.NewNopLogger()

	_, err := openRemote(&Config{}, logger)
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	rmt, err := openRemote(&Config{RemoteURL: "sqlite::memory:"}, logger)
	require.NoError(t, err)
	require.IsType(t, &sqlremote.Remote{}, rmt)
	require.NoError(t, rmt.(*sqlremote.Remote).Close())

	rmt, err = openRemote(&Config{RemoteURL: "https://db.example.com/rest/v1", RemoteAPIKey: "anon"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &postgrest.Client{}, rmt)

	_, err = openRemote(&Config{RemoteURL: "db.example.com"}, logger)
	assert.True(t, errors.IsValidationError(err))
}

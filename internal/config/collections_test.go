package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
)

func TestLoad(t *testing.T) {
	colls, err := Load("testdata/collections.yaml")
	require.NoError(t, err)
	require.Len(t, colls, 2)
	assert.Equal(t, []rallysync.CollectionName{"teams", "players"}, colls.Names())

	teams, ok := colls.Find("teams")
	require.True(t, ok)
	assert.True(t, teams.Config.Enabled)
	assert.Equal(t, 50, teams.Config.BatchSize)
	assert.Equal(t, 30*time.Second, teams.Config.SyncInterval)
	assert.Equal(t, 5, teams.Config.RetryAttempts)
	require.Len(t, teams.Config.Filters, 3)
	assert.Equal(t, query.Eq, teams.Config.Filters[0].Operator)
	assert.Equal(t, "active", teams.Config.Filters[0].Value)
	assert.Equal(t, query.Gte, teams.Config.Filters[1].Operator)
	assert.Equal(t, query.In, teams.Config.Filters[2].Operator)
	assert.Equal(t, "id", teams.Schema.PrimaryKey)
	assert.Equal(t, "_modified", teams.Schema.ModifiedField)
	assert.Equal(t, []string{"coach"}, teams.Schema.Fields)

	players, ok := colls.Find("players")
	require.True(t, ok)
	assert.False(t, players.Config.Enabled)
	assert.Equal(t, 100, players.Config.BatchSize)
	assert.Equal(t, 30*time.Second, players.Config.SyncInterval)
	assert.Equal(t, "player_id", players.Schema.PrimaryKey)
	assert.Equal(t, "updated_at", players.Schema.ModifiedField)
	assert.Equal(t, "is_deleted", players.Schema.DeletedField)

	_, ok = colls.Find("venues")
	assert.False(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	var ioErr *errors.IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "collections:\n  - name: teams\n    batchsize: 10\n",
			want: "batchsize",
		},
		{
			name: "bad duration",
			yaml: "collections:\n  - name: teams\n    sync_interval: soon\n",
			want: "sync_interval",
		},
		{
			name: "interval too short",
			yaml: "collections:\n  - name: teams\n    sync_interval: 10ms\n",
			want: "sync_interval",
		},
		{
			name: "unknown operator",
			yaml: "collections:\n  - name: teams\n    filters:\n      - {field: status, operator: like, value: x}\n",
			want: "operator",
		},
		{
			name: "batch too large",
			yaml: "collections:\n  - name: teams\n    batch_size: 5000\n",
			want: "batch_size",
		},
		{
			name: "duplicate",
			yaml: "collections:\n  - name: teams\n  - name: teams\n",
			want: "duplicate",
		},
		{
			name: "missing name",
			yaml: "collections:\n  - batch_size: 10\n",
			want: "name",
		},
		{
			name: "in without list",
			yaml: "collections:\n  - name: teams\n    filters:\n      - {field: id, operator: in, value: a}\n",
			want: "list",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "inline.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	colls, err := Parse([]byte("collections: []\n"), "empty.yaml")
	require.NoError(t, err)
	assert.Empty(t, colls)
}

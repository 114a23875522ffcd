package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rallysync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `remote_url: https://db.example.com/rest/v1
remote_api_key: anon
remote_schema: league
store_path: data/rallysync.db
collections_file: /etc/rallysync/collections.yaml
operation_timeout: 10s
log_level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "https://db.example.com/rest/v1", cfg.RemoteURL)
	assert.Equal(t, "anon", cfg.RemoteAPIKey)
	assert.Equal(t, "league", cfg.RemoteSchema)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/rallysync.db"), cfg.StorePath)
	assert.Equal(t, "/etc/rallysync/collections.yaml", cfg.CollectionsFile)
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, "stderr", cfg.LogOutput)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	resetViper(t)
	t.Setenv("RALLYSYNC_REMOTE_URL", "sqlite:remote.db")
	t.Setenv("RALLYSYNC_OPERATION_TIMEOUT", "not-a-duration")
	path := writeConfig(t, "remote_url: https://db.example.com\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:remote.db", cfg.RemoteURL)
	assert.Equal(t, constants.DefaultOperationTimeout, cfg.OperationTimeout)
	assert.Equal(t, constants.DefaultStorePath, cfg.StorePath)
	assert.Equal(t, constants.DefaultCollectionsFile, cfg.CollectionsFile)
}

func TestLoadConfigExplicitFileMustExist(t *testing.T) {
	resetViper(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *errors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestUpdateFromFlags(t *testing.T) {
	cfg := &Config{Format: "yaml", LogLevel: "warn", CollectionsFile: "collections.yaml"}

	cfg.UpdateFromFlags(true, false, true, "", "", "")
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "yaml", cfg.Format)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.logLevelSet)
	assert.Equal(t, "collections.yaml", cfg.CollectionsFile)

	cfg.UpdateFromFlags(false, false, false, "json", "error", "other.yaml")
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.True(t, cfg.logLevelSet)
	assert.Equal(t, "other.yaml", cfg.CollectionsFile)
}

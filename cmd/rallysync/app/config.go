package app

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/rallysync/internal/config"
	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
)

// EnvPrefix prefixes every environment variable read through Viper, so
// remote_url is RALLYSYNC_REMOTE_URL.
const EnvPrefix = "RALLYSYNC"

// Config holds the application configuration loaded from various sources
// including config files, environment variables, and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Remote backend
	RemoteURL    string
	RemoteAPIKey string
	RemoteSchema string

	// Local state
	StorePath       string
	CollectionsFile string

	// OperationTimeout caps each network operation of a sync pass
	OperationTimeout time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string

	// logLevelSet records that --log-level was given
	logLevelSet bool
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (~/.rallysync.yaml, or --config)
// 5. Defaults
func LoadConfig(configFile string) (*Config, error) {
	// .env files must be loaded before Viper binds the environment
	loadEnvFiles()

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	viper.SetDefault("store_path", constants.DefaultStorePath)
	viper.SetDefault("collections_file", constants.DefaultCollectionsFile)

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rallysync")
	}

	if err := viper.ReadInConfig(); err != nil {
		// a missing default file is fine; an explicit or broken one is not
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.NewConfigError("config file", err.Error(), err)
		}
	}

	cfg := &Config{
		ConfigFile: viper.ConfigFileUsed(),

		RemoteURL:    config.GetString("remote_url"),
		RemoteAPIKey: config.GetString("remote_api_key"),
		RemoteSchema: config.GetString("remote_schema"),

		StorePath:       config.GetString("store_path"),
		CollectionsFile: config.GetString("collections_file"),

		OperationTimeout: config.GetDuration("operation_timeout", constants.DefaultOperationTimeout),

		LogLevel:  config.GetString("log_level"),
		LogFormat: firstNonEmpty(config.GetString("log_format"), "auto"),
		LogOutput: firstNonEmpty(config.GetString("log_output"), "stderr"),
	}

	// relative paths in a config file are relative to that file
	if dir := filepath.Dir(cfg.ConfigFile); cfg.ConfigFile != "" && viper.InConfig("collections_file") {
		cfg.CollectionsFile = resolve(dir, cfg.CollectionsFile)
	}
	if dir := filepath.Dir(cfg.ConfigFile); cfg.ConfigFile != "" && viper.InConfig("store_path") {
		cfg.StorePath = resolve(dir, cfg.StorePath)
	}

	return cfg, nil
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel, collectionsFile string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
		c.logLevelSet = true
	}
	if collectionsFile != "" {
		c.CollectionsFile = collectionsFile
	}
}

// loadEnvFiles loads environment variables from .env files.
func loadEnvFiles() {
	// .env.local is loaded last but godotenv never overrides, so list it first
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(dir, path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

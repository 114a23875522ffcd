package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentstation/rallysync/pkg/constants"
)

// Config describes where and how a logger writes.
type Config struct {
	// Level is a zerolog level name; "warning" and "off" are accepted too.
	Level string

	// Format is "json", "console" or "auto" (console on a terminal).
	Format string

	// Output is "stderr", "stdout", "discard" or a file path. Files are
	// rotated once they reach MaxSizeMB.
	Output string

	// TimeFormat is the console timestamp layout.
	TimeFormat string

	NoColor   bool
	AddCaller bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "auto",
		Output:     "stderr",
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
		MaxSizeMB:  constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAgeDays: constants.LogMaxAgeDays,
	}
}

// NewLoggerFromConfig builds a logger from cfg. A nil cfg means
// DefaultConfig. Levels below zerolog's global level lower it, so trace
// output is not filtered out globally.
func NewLoggerFromConfig(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := parseLevel(cfg.Level)
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}

	logger := zerolog.New(writer(cfg)).Level(level).With().Timestamp().Logger()
	if cfg.AddCaller {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

func writer(cfg *Config) io.Writer {
	var (
		out      io.Writer
		terminal bool
	)
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out, terminal = os.Stdout, isTerminal(os.Stdout)
	case "stderr", "":
		out, terminal = os.Stderr, isTerminal(os.Stderr)
	case "discard", "none":
		return io.Discard
	default:
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = constants.LogMaxSizeMB
		}
		out = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return out
	case "console", "pretty":
	default:
		if !terminal {
			return out
		}
	}
	layout := cfg.TimeFormat
	if layout == "" {
		layout = time.Kitchen
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: layout, NoColor: cfg.NoColor || !terminal}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return zerolog.WarnLevel
	case "off", "none":
		return zerolog.Disabled
	}
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

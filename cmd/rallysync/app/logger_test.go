package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetermineLogLevel(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{"default", Config{}, "info"},
		{"configured", Config{LogLevel: "error"}, "error"},
		{"invalid configured", Config{LogLevel: "loud"}, "info"},
		{"verbose beats configured", Config{LogLevel: "error", Verbose: true}, "debug"},
		{"quiet", Config{Quiet: true}, "warn"},
		{"verbose and quiet", Config{Verbose: true, Quiet: true}, "warn"},
		{"flag beats verbose", Config{LogLevel: "trace", Verbose: true, logLevelSet: true}, "trace"},
		{"invalid flag", Config{LogLevel: "loud", logLevelSet: true}, "info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			assert.Equal(t, tt.want, determineLogLevel(&cfg))
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(&Config{Quiet: true, LogFormat: "json", LogOutput: "stderr"})
	assert.Equal(t, "warn", logger.GetLevel().String())
}

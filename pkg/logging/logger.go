// Package logging builds the zerolog loggers used across rallysync and
// threads them through contexts. Sync workers tag every line with the
// collection and the pass it belongs to:
//
//	ctx = logging.WithCollection(ctx, "teams")
//	ctx = logging.WithPass(ctx, passID)
//	logging.FromContext(ctx).Info().Int("records", n).Msg("Pull finished")
//
// Terminals get console output; anything else gets JSON lines. File
// outputs rotate by size.
package logging

import (
	"os"
	"sync/atomic"

	goisatty "github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var defaultLogger atomic.Pointer[zerolog.Logger]

func init() {
	logger := NewLoggerFromConfig(DefaultConfig())
	defaultLogger.Store(&logger)
}

// Default returns the process-wide logger. Components that are not handed
// a logger fall back to it.
func Default() *zerolog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger, including zerolog's own
// global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger.Store(&logger)
	log.Logger = logger
}

func isTerminal(f *os.File) bool {
	return goisatty.IsTerminal(f.Fd()) || goisatty.IsCygwinTerminal(f.Fd())
}

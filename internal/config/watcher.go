package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/logging"
)

// Watcher reloads a collections file when it changes on disk. Bursts of
// writes are coalesced into one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *zerolog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher watches the directory holding path, so editors that replace
// the file instead of writing it in place are still seen. A non-positive
// debounce uses constants.ConfigReloadDebounce.
func NewWatcher(path string, debounce time.Duration, logger *zerolog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = constants.ConfigReloadDebounce
	}
	if logger == nil {
		logger = logging.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WrapIO("resolve", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WrapResource("create", "file watcher", path, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, errors.WrapIO("watch", filepath.Dir(abs), err)
	}

	return &Watcher{path: abs, debounce: debounce, logger: logger, watcher: fw}, nil
}

// Run delivers every successfully reloaded file to apply until ctx is
// done. Files that fail to parse are logged and skipped; the previous
// configuration stays in effect.
func (w *Watcher) Run(ctx context.Context, apply func(Collections)) error {
	defer func() { _ = w.watcher.Close() }()

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reload = timer.C

		case <-reload:
			reload = nil
			colls, err := Load(w.path)
			if err != nil {
				w.logger.Warn().Err(err).Str("file", w.path).Msg("Ignoring invalid collections file")
				continue
			}
			w.logger.Info().Str("file", w.path).Int("collections", len(colls)).Msg("Collections file reloaded")
			apply(colls)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

package rallysync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/events"
	"github.com/agentstation/rallysync/pkg/logging"
	"github.com/agentstation/rallysync/pkg/remote"
	"github.com/agentstation/rallysync/pkg/store"
	"github.com/agentstation/utc"
)

// errDetached stops a pass whose worker was removed mid-flight.
var errDetached = errors.New("collection worker detached")

// pass is one run of pull followed by push. Callers that trigger a
// collection while a pass is running share that pass.
type pass struct {
	id     string
	done   chan struct{}
	result SyncStatus
	err    error
}

// worker owns the sync loop of a single collection.
type worker struct {
	name   CollectionName
	local  store.Local
	remote remote.Remote
	schema document.Schema
	bus    *events.Bus
	status *statusCell
	opts   *options
	logger *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed when the ticker loop exits
	reset  chan struct{} // restarts the ticker after a config change

	mu      sync.Mutex
	active  bool
	cfg     SyncConfig
	running *pass
}

func newWorker(c *collection, rmt remote.Remote, bus *events.Bus, opts *options) *worker {
	ctx := logging.WithCollection(logging.WithLogger(context.Background(), opts.logger), string(c.name))
	ctx, cancel := context.WithCancel(ctx)
	return &worker{
		name:   c.name,
		local:  c.local,
		remote: rmt,
		schema: c.schema,
		bus:    bus,
		status: c.status,
		opts:   opts,
		logger: logging.FromContext(ctx),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		reset:  make(chan struct{}, 1),
		cfg:    c.cfg.Clone(),
	}
}

// start launches the ticker loop and the initial pass.
func (w *worker) start() {
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()

	go w.loop()
	w.trigger()
}

// stop detaches the worker and waits for its ticker loop to exit. A
// running pass is cancelled but not awaited; its results are dropped.
func (w *worker) stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	w.active = false
	w.status.update(func(s *SyncStatus) {
		if s.Status == StatusSyncing {
			s.Status = StatusIdle
			s.Progress = nil
		}
	})
	w.mu.Unlock()

	w.cancel()
	<-w.done
	w.logger.Debug().Msg("Sync worker stopped")
}

// reconfigure swaps the config and restarts the interval timer.
func (w *worker) reconfigure(cfg SyncConfig) {
	w.mu.Lock()
	w.cfg = cfg.Clone()
	w.mu.Unlock()

	select {
	case w.reset <- struct{}{}:
	default:
	}
}

func (w *worker) config() SyncConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.Clone()
}

func (w *worker) isActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func (w *worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.config().SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.reset:
			ticker.Reset(w.config().SyncInterval)
		case <-ticker.C:
			w.trigger()
		}
	}
}

// trigger starts a pass, or returns the running one. It returns nil once
// the worker is detached.
func (w *worker) trigger() *pass {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return nil
	}
	if w.running != nil {
		return w.running
	}
	p := &pass{id: uuid.NewString(), done: make(chan struct{})}
	w.running = p
	go w.run(p, w.cfg.Clone())
	return p
}

func (w *worker) run(p *pass, cfg SyncConfig) {
	defer close(p.done)

	ctx := logging.WithPass(w.ctx, p.id)
	logger := logging.FromContext(ctx)
	started := time.Now()

	if !w.commit(func(s *SyncStatus) {
		s.Status = StatusSyncing
		s.Progress = nil
		s.Error = ""
	}, events.New(events.SyncStarted, string(w.name))) {
		w.finish(p, nil, events.Event{})
		p.err = errors.NewNotFoundError("collection", string(w.name))
		return
	}
	logger.Debug().Msg("Sync pass started")

	err := w.pull(ctx, cfg, logger)
	if err == nil {
		err = w.push(ctx, cfg, logger)
	}

	var (
		final SyncStatus
		ok    bool
	)
	if err != nil {
		final, ok = w.finish(p, func(s *SyncStatus) {
			s.Status = StatusError
			s.Error = err.Error()
		}, events.New(events.SyncError, string(w.name)).WithError(err))
	} else {
		now := utc.Now()
		final, ok = w.finish(p, func(s *SyncStatus) {
			done := 100
			s.Status = StatusCompleted
			s.Progress = &done
			s.LastSynced = &now
			s.Error = ""
		}, events.New(events.SyncCompleted, string(w.name)).WithProgress(100))
	}
	if !ok {
		logger.Debug().Msg("Sync pass discarded, collection removed")
		p.err = errors.NewNotFoundError("collection", string(w.name))
		return
	}

	p.result = final
	p.err = err
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(started)).Msg("Sync pass failed")
		return
	}
	logger.Info().Dur("duration", time.Since(started)).Msg("Sync pass completed")
}

// commit applies a status change and publishes e, unless the worker has
// been detached.
func (w *worker) commit(fn func(*SyncStatus), e events.Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commitLocked(fn, e)
}

// finish records the terminal state of p. Clearing the running pass under
// the same lock means a trigger after the terminal event starts a new pass.
func (w *worker) finish(p *pass, fn func(*SyncStatus), e events.Event) (SyncStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running == p {
		w.running = nil
	}
	if fn == nil || !w.commitLocked(fn, e) {
		return SyncStatus{}, false
	}
	return w.status.get(), true
}

func (w *worker) commitLocked(fn func(*SyncStatus), e events.Event) bool {
	if !w.active {
		return false
	}
	w.status.update(fn)
	if !w.bus.Publish(e) {
		w.logger.Debug().Str("event_type", string(e.Type)).Msg("Sync event dropped")
	}
	return true
}

func (w *worker) progress(percent int) {
	w.commit(func(s *SyncStatus) {
		s.Progress = &percent
	}, events.New(events.SyncProgress, string(w.name)).WithProgress(percent))
}

// opTimeout bounds one network operation so a hung call cannot outlive
// the next tick.
func (w *worker) opTimeout(cfg SyncConfig) time.Duration {
	return min(w.opts.operationTimeout, cfg.SyncInterval/2)
}

func (w *worker) backoff() backoff {
	return backoff{base: w.opts.backoffBase, max: w.opts.backoffMax}
}

// call runs one remote operation under the collection's retry policy.
func (w *worker) call(ctx context.Context, cfg SyncConfig, logger *zerolog.Logger, operation string, op func(ctx context.Context) error) error {
	return retry(ctx, cfg.RetryAttempts, w.opTimeout(cfg), w.backoff(), logger, operation, op)
}

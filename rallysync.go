// Package rallysync provides the main entry point for the rallysync
// replication engine. It keeps embedded, offline-capable document stores
// synchronized with a remote relational backend, one independent sync loop
// per collection.
//
// A Registry owns the collections and their workers:
// - Each enabled collection gets a worker that pulls remote changes
// matching the collection's filters, then pushes locally pending writes
// - Pending writes that already exist remotely are detected by equality
// matching and never sent twice
// - Transient remote failures are retried with bounded attempts
// - Progress is published on an event bus and exposed as SyncStatus
//
// Example usage:
//
//	rmt, err := postgrest.New("https://db.example.com/rest/v1", postgrest.WithAPIKey(key))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg, err := rallysync.New(rmt)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Cleanup()
//
//	// Observe sync lifecycle events
//	sub := reg.OnSyncEvent(0)
//	defer sub.Unsubscribe()
//
//	// Register a collection backed by an embedded store
//	err = reg.AddCollection("teams", localStore, rallysync.SyncConfig{
//	    Enabled:      true,
//	    BatchSize:    50,
//	    SyncInterval: time.Minute,
//	    Filters: []query.Filter{
//	        {Field: "status", Operator: query.Eq, Value: "active"},
//	    },
//	})
//
//	// Run a pass now and wait for it to finish
//	status, err := reg.SyncCollection(ctx, "teams")
package rallysync

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/events"
	"github.com/agentstation/rallysync/pkg/remote"
	"github.com/agentstation/rallysync/pkg/store"
)

// Compile-time interface check to ensure proper implementation.
var _ Engine = (*Registry)(nil)

// Engine is the sync registry surface used by the CLI and the API server.
type Engine interface {
	// AddCollection registers a collection or replaces its registration
	AddCollection(name CollectionName, local store.Local, cfg SyncConfig, opts ...CollectionOption) error

	// RemoveCollection stops a collection's worker and forgets it
	RemoveCollection(name CollectionName) error

	// UpdateConfig live-updates a collection's config
	UpdateConfig(name CollectionName, patch ConfigPatch) error

	// ResetCollection drops the pull checkpoint and status
	ResetCollection(ctx context.Context, name CollectionName) error

	// SyncCollection runs a pass and waits for it to finish
	SyncCollection(ctx context.Context, name CollectionName) (SyncStatus, error)

	// SyncAllCollections runs a pass on every enabled collection
	SyncAllCollections(ctx context.Context) (map[CollectionName]SyncStatus, error)

	// GetSyncStatus returns a collection's status, or nil when not registered
	GetSyncStatus(name CollectionName) *SyncStatus

	// Collections lists the registered collection names
	Collections() []CollectionName

	// Config returns a collection's effective config
	Config(name CollectionName) (SyncConfig, error)

	// Statuses returns every collection's status ordered by name
	Statuses() []SyncStatus

	// OnSyncEvent subscribes to sync events
	OnSyncEvent(buffer int) *events.Subscription

	// AttachSubscriber forwards sync events to a push-style subscriber
	AttachSubscriber(s events.Subscriber, buffer int) *events.Subscription

	// Cleanup stops every worker and closes every subscription
	Cleanup() error
}

// collection is a registered collection. worker is nil while the
// collection is disabled.
type collection struct {
	name   CollectionName
	local  store.Local
	schema document.Schema
	cfg    SyncConfig
	status *statusCell
	worker *worker
}

// Registry runs one sync worker per enabled collection. It is safe for
// concurrent use.
type Registry struct {
	remote remote.Remote
	opts   *options
	logger *zerolog.Logger
	bus    *events.Bus
	stop   context.CancelFunc

	mu          sync.RWMutex
	collections map[CollectionName]*collection
	closed      bool
}

// New creates a Registry that synchronizes against rmt.
func New(rmt remote.Remote, opts ...Option) (*Registry, error) {
	if rmt == nil {
		return nil, errors.NewConfigError("registry", "remote is required", nil)
	}
	o, err := defaults().apply(opts...)
	if err != nil {
		return nil, errors.NewConfigError("registry", err.Error(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		remote:      rmt,
		opts:        o,
		logger:      o.logger,
		bus:         events.NewBus(o.logger, o.eventQueueSize),
		stop:        cancel,
		collections: make(map[CollectionName]*collection),
	}
	go r.bus.Run(ctx)

	return r, nil
}

// AddCollection registers name with its local store and config. Calling it
// again for a registered name replaces the config and restarts the
// interval timer. An enabled collection starts syncing immediately.
func (r *Registry) AddCollection(name CollectionName, local store.Local, cfg SyncConfig, opts ...CollectionOption) error {
	if name == "" {
		return errors.NewConfigError("collection", "name is required", nil)
	}
	if local == nil {
		return errors.NewConfigError("collection "+string(name), "local store is required", nil)
	}

	co := &collectionOptions{}
	for _, opt := range opts {
		opt(co)
	}
	schema := co.schema.WithDefaults()
	if err := schema.Validate(); err != nil {
		return errors.NewConfigError("collection "+string(name), err.Error(), err)
	}
	cfg = cfg.WithDefaults().Clone()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrClosed
	}

	c, exists := r.collections[name]
	var stale *worker
	if exists && c.worker != nil && c.local == local && sameSchema(c.schema, schema) && cfg.Enabled {
		c.cfg = cfg
		c.worker.reconfigure(cfg)
		r.mu.Unlock()
		r.logger.Info().Str("collection", string(name)).Msg("Collection config replaced")
		return nil
	}
	if exists {
		stale = c.worker
		c.local, c.schema, c.cfg, c.worker = local, schema, cfg, nil
	} else {
		c = &collection{name: name, local: local, schema: schema, cfg: cfg, status: newStatusCell(name)}
		r.collections[name] = c
	}
	r.mu.Unlock()

	if stale != nil {
		stale.stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.collections[name] != c {
		return nil
	}
	if c.cfg.Enabled && c.worker == nil {
		c.worker = newWorker(c, r.remote, r.bus, r.opts)
		c.worker.start()
	}

	r.logger.Info().
		Str("collection", string(name)).
		Bool("enabled", cfg.Enabled).
		Int("batch_size", cfg.BatchSize).
		Dur("sync_interval", cfg.SyncInterval).
		Int("filters", len(cfg.Filters)).
		Msg("Collection registered")
	return nil
}

// RemoveCollection stops the collection's timer and forgets it. Results of
// a pass still in flight are discarded.
func (r *Registry) RemoveCollection(name CollectionName) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrClosed
	}
	c, ok := r.collections[name]
	if !ok {
		r.mu.Unlock()
		return errors.NewNotFoundError("collection", string(name))
	}
	delete(r.collections, name)
	w := c.worker
	c.worker = nil
	r.mu.Unlock()

	if w != nil {
		w.stop()
	}
	r.logger.Info().Str("collection", string(name)).Msg("Collection removed")
	return nil
}

// UpdateConfig applies patch to a collection's config. Disabling tears the
// worker down. A disabled collection cannot be re-enabled here; register
// it again with AddCollection.
func (r *Registry) UpdateConfig(name CollectionName, patch ConfigPatch) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.ErrClosed
	}
	c, ok := r.collections[name]
	if !ok {
		r.mu.Unlock()
		return errors.NewNotFoundError("collection", string(name))
	}

	cfg := patch.Apply(c.cfg).WithDefaults()
	if err := cfg.Validate(); err != nil {
		r.mu.Unlock()
		return err
	}
	if cfg.Enabled && c.worker == nil {
		r.mu.Unlock()
		return errors.NewConfigError("collection "+string(name), "disabled collections are re-enabled with AddCollection", nil)
	}
	c.cfg = cfg

	var stale *worker
	switch {
	case !cfg.Enabled && c.worker != nil:
		stale = c.worker
		c.worker = nil
	case cfg.Enabled:
		c.worker.reconfigure(cfg)
	}
	r.mu.Unlock()

	if stale != nil {
		stale.stop()
	}
	r.logger.Info().Str("collection", string(name)).Bool("enabled", cfg.Enabled).Msg("Collection config updated")
	return nil
}

// ResetCollection drops the pull checkpoint and resets the status to idle
// so the next pass pulls everything again.
func (r *Registry) ResetCollection(ctx context.Context, name CollectionName) error {
	c, err := r.lookup(name)
	if err != nil {
		return err
	}
	if err := c.local.SaveCheckpoint(ctx, string(name), nil); err != nil {
		return errors.WrapResource("reset", "checkpoint", string(name), err)
	}
	c.status.reset()
	r.logger.Info().Str("collection", string(name)).Msg("Collection checkpoint reset")
	return nil
}

// SyncCollection triggers a pass, or joins the running one, and blocks
// until it reaches a terminal state or ctx is done. A failed pass returns
// its status together with a *errors.SyncError.
func (r *Registry) SyncCollection(ctx context.Context, name CollectionName) (SyncStatus, error) {
	c, err := r.lookup(name)
	if err != nil {
		return SyncStatus{}, err
	}

	r.mu.RLock()
	w := c.worker
	r.mu.RUnlock()
	if w == nil {
		return c.status.get(), errors.NewConfigError("collection "+string(name), "sync is disabled", nil)
	}

	p := w.trigger()
	if p == nil {
		return SyncStatus{}, errors.NewNotFoundError("collection", string(name))
	}
	select {
	case <-p.done:
		return p.result.clone(), p.err
	case <-ctx.Done():
		return c.status.get(), ctx.Err()
	}
}

// SyncAllCollections runs SyncCollection on every enabled collection
// concurrently. Failed passes are joined into the returned error; the map
// holds every collection that reached a terminal state.
func (r *Registry) SyncAllCollections(ctx context.Context) (map[CollectionName]SyncStatus, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, errors.ErrClosed
	}
	var names []CollectionName
	for name, c := range r.collections {
		if c.worker != nil {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	return syncAll(ctx, names, r.SyncCollection)
}

// GetSyncStatus returns a snapshot of a collection's status, or nil when
// the collection is not registered.
func (r *Registry) GetSyncStatus(name CollectionName) *SyncStatus {
	c, err := r.lookup(name)
	if err != nil {
		return nil
	}
	s := c.status.get()
	return &s
}

// Collections returns the registered names in order.
func (r *Registry) Collections() []CollectionName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.collections))
}

// Config returns a collection's effective config.
func (r *Registry) Config(name CollectionName) (SyncConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	if !ok {
		return SyncConfig{}, errors.NewNotFoundError("collection", string(name))
	}
	return c.cfg.Clone(), nil
}

// Statuses returns every collection's status ordered by name.
func (r *Registry) Statuses() []SyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SyncStatus, 0, len(r.collections))
	for _, name := range slices.Sorted(maps.Keys(r.collections)) {
		out = append(out, r.collections[name].status.get())
	}
	return out
}

// OnSyncEvent subscribes to every collection's sync events. A non-positive
// buffer uses the registry default. Only events published after the call
// are delivered.
func (r *Registry) OnSyncEvent(buffer int) *events.Subscription {
	if buffer <= 0 {
		buffer = r.opts.eventBuffer
	}
	return r.bus.Subscribe(buffer)
}

// AttachSubscriber forwards sync events to s until the subscription is
// cancelled or the registry is cleaned up.
func (r *Registry) AttachSubscriber(s events.Subscriber, buffer int) *events.Subscription {
	if buffer <= 0 {
		buffer = r.opts.eventBuffer
	}
	return r.bus.Attach(s, buffer)
}

func (r *Registry) lookup(name CollectionName) (*collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errors.ErrClosed
	}
	c, ok := r.collections[name]
	if !ok {
		return nil, errors.NewNotFoundError("collection", string(name))
	}
	return c, nil
}

func sameSchema(a, b document.Schema) bool {
	return a.PrimaryKey == b.PrimaryKey &&
		a.ModifiedField == b.ModifiedField &&
		a.DeletedField == b.DeletedField &&
		slices.Equal(a.Fields, b.Fields)
}

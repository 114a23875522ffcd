// Package memory provides an in-process implementation of store.Store.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps documents in maps guarded by a single RWMutex.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	entries    map[string]*entry
	checkpoint any
	revision   int64
}

type entry struct {
	doc      document.Document // nil once deleted locally
	synced   bool              // the remote has seen this key
	pending  *document.Change
	revision int64
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) collection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{entries: make(map[string]*entry)}
		s.collections[name] = c
	}
	return c
}

// Query implements store.Local.
func (s *Store) Query(ctx context.Context, name string, preds []query.Predicate) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return []document.Document{}, nil
	}
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]document.Document, 0, len(keys))
	for _, k := range keys {
		e := c.entries[k]
		if e.doc != nil && query.Match(e.doc, preds) {
			out = append(out, e.doc.Clone())
		}
	}
	return out, nil
}

// Upsert implements store.Local.
func (s *Store) Upsert(ctx context.Context, name, key string, doc document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.NewValidationError("key", key, "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(name)
	c.revision++
	c.entries[key] = &entry{doc: doc.Clone(), synced: true, revision: c.revision}
	return nil
}

// Pending implements store.Local.
func (s *Store) Pending(ctx context.Context, name string) ([]document.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return []document.Change{}, nil
	}
	changes := make([]document.Change, 0)
	for _, e := range c.entries {
		if e.pending != nil {
			ch := *e.pending
			ch.Doc = ch.Doc.Clone()
			changes = append(changes, ch)
		}
	}
	slices.SortFunc(changes, func(a, b document.Change) int {
		return int(a.Revision - b.Revision)
	})
	return changes, nil
}

// MarkSynced implements store.Local.
func (s *Store) MarkSynced(ctx context.Context, name, key string, revision int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return errors.NewNotFoundError("document", key)
	}
	e, ok := c.entries[key]
	if !ok {
		return errors.NewNotFoundError("document", key)
	}
	if e.pending == nil || e.pending.Revision > revision {
		return nil
	}
	if e.pending.Op == document.OpDelete {
		delete(c.entries, key)
		return nil
	}
	e.pending = nil
	e.synced = true
	return nil
}

// Checkpoint implements store.Local.
func (s *Store) Checkpoint(ctx context.Context, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return c.checkpoint, nil
	}
	return nil, nil
}

// SaveCheckpoint implements store.Local.
func (s *Store) SaveCheckpoint(ctx context.Context, name string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(name).checkpoint = value
	return nil
}

// Put implements store.Writer.
func (s *Store) Put(ctx context.Context, name, key string, doc document.Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if key == "" {
		return 0, errors.NewValidationError("key", key, "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(name)
	c.revision++
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	op := document.OpInsert
	if e.synced {
		op = document.OpUpdate
	}
	e.doc = doc.Clone()
	e.revision = c.revision
	e.pending = &document.Change{Op: op, Key: key, Doc: e.doc.Clone(), Revision: c.revision}
	return c.revision, nil
}

// Delete implements store.Writer.
func (s *Store) Delete(ctx context.Context, name, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(name)
	e, ok := c.entries[key]
	if !ok || e.doc == nil {
		return 0, errors.NewNotFoundError("document", key)
	}
	c.revision++
	e.doc = nil
	e.revision = c.revision
	e.pending = &document.Change{Op: document.OpDelete, Key: key, Revision: c.revision}
	return c.revision, nil
}

// Get implements store.Writer.
func (s *Store) Get(ctx context.Context, name, key string) (document.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, false, nil
	}
	e, ok := c.entries[key]
	if !ok || e.doc == nil {
		return nil, false, nil
	}
	return e.doc.Clone(), true, nil
}

// Len returns the number of live documents in a collection.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range c.entries {
		if e.doc != nil {
			n++
		}
	}
	return n
}

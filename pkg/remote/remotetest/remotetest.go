// Package remotetest provides an in-memory remote.Remote with fault
// injection and call accounting for tests.
package remotetest

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote"
)

// Backend is the name reported in API errors.
const Backend = "remotetest"

// Op names a remote operation.
type Op string

// Remote operations.
const (
	OpQuery  Op = "query"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Fault makes matching calls fail. An empty Collection matches every
// collection. Times bounds how often the fault fires; zero means always.
// With Hang set the call blocks until its context is done.
type Fault struct {
	Op         Op
	Collection string
	Err        error
	Times      int
	Hang       bool

	fired int
}

// Hook runs at the start of every call, before faults are applied.
type Hook func(ctx context.Context, op Op, collection string)

var _ remote.Remote = (*Remote)(nil)

// Remote is an in-memory backend. Records are keyed by the primary key
// field configured per collection (default "id").
type Remote struct {
	mu     sync.Mutex
	tables map[string]map[string]document.Document
	pks    map[string]string
	faults []*Fault
	calls  map[call]int
	hook   Hook
}

type call struct {
	op         Op
	collection string
}

// New returns an empty remote.
func New() *Remote {
	return &Remote{
		tables: make(map[string]map[string]document.Document),
		pks:    make(map[string]string),
		calls:  make(map[call]int),
	}
}

// SetPrimaryKey overrides the primary key field of a collection.
func (r *Remote) SetPrimaryKey(collection, field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pks[collection] = field
}

// Seed stores records directly, bypassing faults and accounting.
func (r *Remote) Seed(collection string, docs ...document.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(collection)
	for _, d := range docs {
		key, _ := d.Key(document.Schema{PrimaryKey: r.pk(collection)})
		t[key] = d.Clone()
	}
}

// Records returns a copy of every record of a collection ordered by key.
func (r *Remote) Records(collection string) []document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tables[collection]
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]document.Document, len(keys))
	for i, k := range keys {
		out[i] = t[k].Clone()
	}
	return out
}

// Get returns a copy of one record.
func (r *Remote) Get(collection, key string) (document.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.tables[collection][key]
	return d.Clone(), ok
}

// Fail installs a fault and returns it.
func (r *Remote) Fail(op Op, collection string, err error, times int) *Fault {
	return r.AddFault(&Fault{Op: op, Collection: collection, Err: err, Times: times})
}

// AddFault installs a fault.
func (r *Remote) AddFault(f *Fault) *Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, f)
	return f
}

// ClearFaults removes every fault.
func (r *Remote) ClearFaults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = nil
}

// SetHook installs a hook called at the start of every operation.
func (r *Remote) SetHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = h
}

// Calls returns how many times op was called for collection, including
// calls that failed. An empty op or collection matches all.
func (r *Remote) Calls(op Op, collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for c, count := range r.calls {
		if (op == "" || c.op == op) && (collection == "" || c.collection == collection) {
			n += count
		}
	}
	return n
}

// Mutations returns the number of insert, update and delete calls.
func (r *Remote) Mutations(collection string) int {
	return r.Calls(OpInsert, collection) + r.Calls(OpUpdate, collection) + r.Calls(OpDelete, collection)
}

// ResetCalls zeroes the call counters.
func (r *Remote) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[call]int)
}

// Query implements remote.Remote.
func (r *Remote) Query(ctx context.Context, q query.Query) (remote.Page, error) {
	if err := r.begin(ctx, OpQuery, q.Collection); err != nil {
		return remote.Page{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]document.Document, 0, len(r.tables[q.Collection]))
	for _, d := range r.tables[q.Collection] {
		docs = append(docs, d)
	}
	// Stable base order so unordered queries page deterministically.
	pk := r.pk(q.Collection)
	query.Sort(docs, []query.Order{{Field: pk}})

	page, total := query.Apply(docs, q)
	records := make([]document.Document, len(page))
	for i, d := range page {
		records[i] = d.Clone()
	}
	if !q.Count {
		total = remote.UnknownTotal
	}
	return remote.Page{Records: records, Total: total}, nil
}

// Insert implements remote.Remote.
func (r *Remote) Insert(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	if err := r.begin(ctx, OpInsert, collection); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := doc.Key(document.Schema{PrimaryKey: r.pk(collection)})
	if !ok {
		return nil, &errors.APIError{
			Backend:    Backend,
			StatusCode: http.StatusBadRequest,
			Code:       "23502",
			Message:    "null value in primary key column",
		}
	}
	t := r.table(collection)
	if _, exists := t[key]; exists {
		return nil, &errors.APIError{
			Backend:    Backend,
			StatusCode: http.StatusConflict,
			Code:       errors.ConflictCode,
			Message:    "duplicate key value violates unique constraint",
		}
	}
	t[key] = doc.Clone()
	return doc.Clone(), nil
}

// Update implements remote.Remote.
func (r *Remote) Update(ctx context.Context, collection string, key remote.Key, doc document.Document) (document.Document, error) {
	if err := r.begin(ctx, OpUpdate, collection); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(collection)
	if _, ok := t[key.Value]; !ok {
		return nil, errors.NewNotFoundError(collection, key.Value)
	}
	t[key.Value] = doc.Clone()
	return doc.Clone(), nil
}

// Delete implements remote.Remote.
func (r *Remote) Delete(ctx context.Context, collection string, key remote.Key) error {
	if err := r.begin(ctx, OpDelete, collection); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(collection)
	if _, ok := t[key.Value]; !ok {
		return errors.NewNotFoundError(collection, key.Value)
	}
	delete(t, key.Value)
	return nil
}

// begin counts the call, runs the hook and applies the first matching
// fault.
func (r *Remote) begin(ctx context.Context, op Op, collection string) error {
	r.mu.Lock()
	r.calls[call{op, collection}]++
	hook := r.hook
	var fault *Fault
	for _, f := range r.faults {
		if f.Op != op || (f.Collection != "" && f.Collection != collection) {
			continue
		}
		if f.Times > 0 && f.fired >= f.Times {
			continue
		}
		f.fired++
		fault = f
		break
	}
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, op, collection)
	}
	if fault == nil {
		return ctx.Err()
	}
	if fault.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return fault.Err
}

func (r *Remote) table(collection string) map[string]document.Document {
	t, ok := r.tables[collection]
	if !ok {
		t = make(map[string]document.Document)
		r.tables[collection] = t
	}
	return t
}

func (r *Remote) pk(collection string) string {
	if pk, ok := r.pks[collection]; ok {
		return pk
	}
	return constants.DefaultPrimaryKey
}

// Timeout returns a transient timeout error as a hung request would
// produce.
func Timeout(op Op) error {
	return errors.NewTimeoutError(string(op), "", "remote did not respond")
}

// Unavailable returns a 503 API error.
func Unavailable() error {
	return &errors.APIError{Backend: Backend, StatusCode: http.StatusServiceUnavailable, Message: "service unavailable"}
}

// Rejected returns a 422 API error for a document the backend refuses.
func Rejected(message string) error {
	return &errors.APIError{Backend: Backend, StatusCode: http.StatusUnprocessableEntity, Code: "23514", Message: message}
}

// Conflict returns a 409 unique violation, as a write colliding with
// another row would produce.
func Conflict(message string) error {
	return &errors.APIError{Backend: Backend, StatusCode: http.StatusConflict, Code: "23505", Message: message}
}

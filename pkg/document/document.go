// Package document defines the generic record shape the sync engine moves
// between the local store and the remote backend.
package document

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/agentstation/rallysync/pkg/constants"
	"github.com/agentstation/rallysync/pkg/errors"
)

// Document is a schema-agnostic record. Values follow JSON decoding
// conventions: strings, float64/json.Number or Go integer kinds, bools,
// nil, nested maps and slices.
type Document map[string]any

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Document:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Key returns the string form of the document's primary key.
func (d Document) Key(schema Schema) (string, bool) {
	v, ok := d[schema.PrimaryKey]
	if !ok || v == nil {
		return "", false
	}
	return KeyString(v), true
}

// KeyString renders a primary key value as a stable string. Integral
// floats render without a fractional part so that 7 and 7.0 agree.
func KeyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return KeyString(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// Fields returns the document's field names in sorted order.
func (d Document) Fields() []string {
	return slices.Sorted(maps.Keys(d))
}

// Schema describes the bookkeeping fields of a collection.
type Schema struct {
	// PrimaryKey is the stable identity field.
	PrimaryKey string `json:"primary_key" yaml:"primary_key"`

	// ModifiedField is the modified marker (logical clock or timestamp).
	// Empty disables checkpointed pulls and the concurrency token check.
	ModifiedField string `json:"modified_field" yaml:"modified_field"`

	// DeletedField is the soft-delete flag.
	DeletedField string `json:"deleted_field" yaml:"deleted_field"`

	// Fields lists the payload fields the remote table declares. Declared
	// fields missing from a local document must be NULL remotely for the
	// document to be considered in sync.
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// DefaultSchema returns the schema used when a collection declares none.
func DefaultSchema() Schema {
	return Schema{
		PrimaryKey:    constants.DefaultPrimaryKey,
		ModifiedField: constants.DefaultModifiedField,
		DeletedField:  constants.DefaultDeletedField,
	}
}

// WithDefaults fills empty bookkeeping field names with the defaults.
// ModifiedField is left empty only when the caller explicitly disables it
// with "-".
func (s Schema) WithDefaults() Schema {
	def := DefaultSchema()
	if s.PrimaryKey == "" {
		s.PrimaryKey = def.PrimaryKey
	}
	switch s.ModifiedField {
	case "":
		s.ModifiedField = def.ModifiedField
	case "-":
		s.ModifiedField = ""
	}
	if s.DeletedField == "" {
		s.DeletedField = def.DeletedField
	}
	return s
}

// Validate checks that the bookkeeping fields are distinct.
func (s Schema) Validate() error {
	if s.PrimaryKey == "" {
		return errors.NewValidationError("primary_key", s.PrimaryKey, "must not be empty")
	}
	if s.PrimaryKey == s.DeletedField || (s.ModifiedField != "" && s.ModifiedField == s.PrimaryKey) {
		return errors.NewValidationError("primary_key", s.PrimaryKey, "must differ from bookkeeping fields")
	}
	if s.ModifiedField != "" && s.ModifiedField == s.DeletedField {
		return errors.NewValidationError("modified_field", s.ModifiedField, "must differ from deleted_field")
	}
	return nil
}

// Op is the kind of a pending local write.
type Op int

const (
	// OpInsert is a document the remote has never seen.
	OpInsert Op = iota
	// OpUpdate is a document that was synced before and changed since.
	OpUpdate
	// OpDelete is a local hard delete.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one pending local write. Revision increases every time the
// application touches the document, so a MarkSynced for an older revision
// leaves a newer write pending.
type Change struct {
	Op       Op
	Key      string
	Doc      Document
	Revision int64
}

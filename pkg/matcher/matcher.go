// Package matcher builds the remote lookup that decides whether a local
// document's exact state already exists on the remote backend.
//
// The push path runs the predicates returned by Build with a limit of one
// row: zero rows means the write must go out, one or more means the local
// copy is already in sync and the mutation can be skipped.
package matcher

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/query"
)

// ignored holds local bookkeeping fields that never reach the remote.
var ignored = map[string]struct{}{
	"_rev":         {},
	"_meta":        {},
	"_attachments": {},
	"_created":     {},
	"created_at":   {},
}

// Ignored reports whether field is local-only bookkeeping.
func Ignored(field string) bool {
	_, ok := ignored[field]
	return ok
}

// Build returns the conjunctive predicates a remote record must satisfy
// to be field-for-field equal to doc. It has no side effects apart from
// logging fields it cannot express.
func Build(doc document.Document, schema document.Schema, logger *zerolog.Logger) []query.Predicate {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	preds := make([]query.Predicate, 0, len(doc)+len(schema.Fields)+2)
	for _, field := range doc.Fields() {
		if skip(field, schema) {
			continue
		}
		switch v := doc[field]; {
		case v == nil:
			preds = append(preds, query.IsNull(field))
		case isBool(v):
			preds = append(preds, query.IsBool(field, v.(bool)))
		case isString(v), query.IsNumber(v):
			preds = append(preds, query.Equal(field, v))
		default:
			logger.Warn().
				Str("field", field).
				Str("type", fmt.Sprintf("%T", v)).
				Msg("Skipping field with unsupported type in equality match")
		}
	}

	// Declared fields the local copy does not carry must be NULL remotely.
	for _, field := range schema.Fields {
		if skip(field, schema) {
			continue
		}
		if _, ok := doc[field]; !ok {
			preds = append(preds, query.IsNull(field))
		}
	}

	if schema.DeletedField != "" {
		if deleted(doc[schema.DeletedField]) {
			preds = append(preds, query.IsBool(schema.DeletedField, true))
		} else {
			// Backends may default the column to NULL instead of false.
			preds = append(preds, query.Or{Predicates: []query.Predicate{
				query.IsBool(schema.DeletedField, false),
				query.IsNull(schema.DeletedField),
			}})
		}
	}

	if schema.ModifiedField != "" {
		switch v := doc[schema.ModifiedField]; {
		case v == nil:
			preds = append(preds, query.IsNull(schema.ModifiedField))
		case isString(v), query.IsNumber(v):
			preds = append(preds, query.Equal(schema.ModifiedField, v))
		default:
			logger.Warn().
				Str("field", schema.ModifiedField).
				Str("type", fmt.Sprintf("%T", v)).
				Msg("Modified marker has unsupported type, not used as concurrency token")
		}
	}

	return preds
}

func skip(field string, schema document.Schema) bool {
	return field == schema.ModifiedField || field == schema.DeletedField || Ignored(field)
}

// deleted interprets a soft-delete marker. SQL backends without a boolean
// type hand back 0 and 1.
func deleted(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	}
	if c, ok := query.CompareValues(v, 0); ok {
		return c != 0
	}
	return false
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

package query

import (
	"slices"
	"strings"
)

// Match reports whether doc satisfies every predicate. It is the
// in-memory rendering of the IR used by the memory store and the test
// remote, with SQL NULL semantics for missing fields.
func Match(doc map[string]any, preds []Predicate) bool {
	for _, p := range preds {
		if !MatchPredicate(doc, p) {
			return false
		}
	}
	return true
}

// MatchPredicate evaluates a single predicate against doc.
func MatchPredicate(doc map[string]any, p Predicate) bool {
	switch pred := p.(type) {
	case Compare:
		c, ok := CompareValues(doc[pred.Field], pred.Value)
		if !ok {
			return false
		}
		switch pred.Op {
		case Eq:
			return c == 0
		case Gt:
			return c > 0
		case Lt:
			return c < 0
		case Gte:
			return c >= 0
		case Lte:
			return c <= 0
		}
		return false
	case InSet:
		v := doc[pred.Field]
		if v == nil {
			return false
		}
		return slices.ContainsFunc(pred.Values, func(candidate any) bool {
			return ValuesEqual(v, candidate)
		})
	case Like:
		s, ok := doc[pred.Field].(string)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(pred.Substring))
	case Is:
		v := doc[pred.Field]
		if pred.Value == nil {
			return v == nil
		}
		b, ok := v.(bool)
		return ok && b == pred.Value
	case Or:
		for _, inner := range pred.Predicates {
			if MatchPredicate(doc, inner) {
				return true
			}
		}
		return false
	}
	return false
}

// Apply evaluates q against an in-memory set of documents. It returns the
// requested page and the total number of matching documents.
func Apply[D ~map[string]any](docs []D, q Query) ([]D, int) {
	matched := make([]D, 0, len(docs))
	for _, d := range docs {
		if Match(d, q.Where) {
			matched = append(matched, d)
		}
	}
	Sort(matched, q.OrderBy)

	total := len(matched)
	if q.Offset >= total {
		return []D{}, total
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, total
}

// Sort orders documents in place. NULLs sort first in ascending order.
func Sort[D ~map[string]any](docs []D, order []Order) {
	if len(order) == 0 {
		return
	}
	slices.SortStableFunc(docs, func(a, b D) int {
		for _, o := range order {
			c := compareForSort(a[o.Field], b[o.Field])
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func compareForSort(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := CompareValues(a, b); ok {
		return c
	}
	return 0
}

package query

import "fmt"

// Translate maps filters onto predicates, preserving order. The result
// is conjunctive. Filters must have passed Validate; an operator outside
// the supported set is a programming error and panics.
func Translate(filters []Filter) []Predicate {
	preds := make([]Predicate, 0, len(filters))
	for _, f := range filters {
		preds = append(preds, translate(f))
	}
	return preds
}

func translate(f Filter) Predicate {
	switch f.Operator {
	case Eq, Gt, Lt, Gte, Lte:
		return Compare{Field: f.Field, Op: f.Operator, Value: f.Value}
	case In:
		values, _ := toSlice(f.Value)
		return InSet{Field: f.Field, Values: values}
	case Contains:
		return Like{Field: f.Field, Substring: fmt.Sprint(f.Value)}
	}
	panic(fmt.Sprintf("query: invalid operator %d on field %q", uint8(f.Operator), f.Field))
}

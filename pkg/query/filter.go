package query

import (
	"fmt"
	"reflect"

	"github.com/agentstation/rallysync/pkg/errors"
)

// Filter is a declarative predicate restricting which remote records a
// collection pulls. Filters on one collection are conjunctive.
type Filter struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// String renders the filter in the remote dialect's field=op.value form.
func (f Filter) String() string {
	return fmt.Sprintf("%s=%s.%v", f.Field, f.Operator, f.Value)
}

// Validate checks the filter's shape against its operator.
func (f Filter) Validate() error {
	if f.Field == "" {
		return errors.NewValidationError("field", f.Field, "must not be empty")
	}
	if !f.Operator.Valid() {
		return errors.NewValidationError("operator", uint8(f.Operator), "unknown operator for field "+f.Field)
	}

	switch f.Operator {
	case In:
		values, ok := toSlice(f.Value)
		if !ok {
			return errors.NewValidationError(f.Field, f.Value, "in requires a list value")
		}
		if len(values) == 0 {
			return errors.NewValidationError(f.Field, f.Value, "in requires at least one value")
		}
		for _, v := range values {
			if !isScalar(v) {
				return errors.NewValidationError(f.Field, v, "in values must be scalars")
			}
		}
	case Contains:
		if _, ok := f.Value.(string); !ok {
			return errors.NewValidationError(f.Field, f.Value, "contains requires a string value")
		}
	default:
		if f.Value == nil || !isScalar(f.Value) {
			return errors.NewValidationError(f.Field, f.Value, f.Operator.String()+" requires a scalar value")
		}
	}
	return nil
}

// ValidateFilters validates every filter, reporting the first failure.
func ValidateFilters(filters []Filter) error {
	for i, f := range filters {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("filter %d: %w", i, err)
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	_, ok := toFloat(v)
	return ok
}

// toSlice converts any slice or array value into []any.
func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Package query holds the backend-neutral filter model of the sync engine:
// declarative SyncFilter triples, the closed predicate IR they translate
// into, and an in-memory evaluator for that IR.
//
// Backends render predicates with an exhaustive type switch over the
// sealed Predicate interface; see pkg/remote/postgrest and
// internal/sqlquery.
package query

import (
	"strings"

	"github.com/agentstation/rallysync/pkg/errors"
)

// Operator is the comparison of a Filter. The set is closed; the zero
// value is invalid.
type Operator uint8

// Supported operators.
const (
	Eq Operator = iota + 1
	Gt
	Lt
	Gte
	Lte
	In
	Contains
)

var operatorNames = map[Operator]string{
	Eq:       "eq",
	Gt:       "gt",
	Lt:       "lt",
	Gte:      "gte",
	Lte:      "lte",
	In:       "in",
	Contains: "contains",
}

// Operators returns every supported operator in declaration order.
func Operators() []Operator {
	return []Operator{Eq, Gt, Lt, Gte, Lte, In, Contains}
}

// String returns the configuration name of the operator.
func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	_, ok := operatorNames[o]
	return ok
}

// IsComparison reports whether o compares a field with a single scalar.
func (o Operator) IsComparison() bool {
	switch o {
	case Eq, Gt, Lt, Gte, Lte:
		return true
	}
	return false
}

// ParseOperator parses a configuration name such as "gte".
func ParseOperator(s string) (Operator, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for op, n := range operatorNames {
		if n == name {
			return op, nil
		}
	}
	return 0, errors.NewValidationError("operator", s, "must be one of eq, gt, lt, gte, lte, in, contains")
}

// MarshalText implements encoding.TextMarshaler.
func (o Operator) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, errors.NewValidationError("operator", uint8(o), "invalid operator")
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operator) UnmarshalText(text []byte) error {
	op, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

package query

// Predicate is the sealed IR every filter and equality check compiles to.
// Only the types in this file implement it.
type Predicate interface {
	predicate()
}

// Compare matches Field against a scalar with Op, which is one of
// Eq, Gt, Lt, Gte or Lte. A NULL or missing field never matches.
type Compare struct {
	Field string
	Op    Operator
	Value any
}

// InSet matches when Field equals any of Values.
type InSet struct {
	Field  string
	Values []any
}

// Like matches when Field contains Substring, ignoring case.
type Like struct {
	Field     string
	Substring string
}

// Is is null-safe equality. Value is nil, true or false.
type Is struct {
	Field string
	Value any
}

// Or matches when any of Predicates matches. An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

func (Compare) predicate()  {}
func (InSet) predicate()    {}
func (Like) predicate()     {}
func (Is) predicate()       {}
func (Or) predicate()       {}

// Equal returns a Compare with Eq.
func Equal(field string, value any) Compare {
	return Compare{Field: field, Op: Eq, Value: value}
}

// IsNull returns an Is predicate matching NULL or missing fields.
func IsNull(field string) Is {
	return Is{Field: field, Value: nil}
}

// IsBool returns an Is predicate matching exactly b.
func IsBool(field string, b bool) Is {
	return Is{Field: field, Value: b}
}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Query is a paged read against one collection. All Where predicates
// must hold.
type Query struct {
	Collection string
	Where      []Predicate
	OrderBy    []Order
	Limit      int  // 0 means no limit
	Offset     int  // rows to skip
	Count      bool // ask the backend for the total row count
}

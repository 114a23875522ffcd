// Package sqlquery compiles the predicate IR of pkg/query into
// parameterized SQLite SQL. Values are always bound through ? placeholders
// and never interpolated into the statement text.
package sqlquery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentstation/rallysync/pkg/query"
)

// Compiler renders predicates against a column expression. The default
// expression quotes the field as an identifier; NewJSON reads fields out of
// a JSON body column instead.
type Compiler struct {
	column func(field string) string
}

// New returns a compiler for tables with one real column per field.
func New() *Compiler {
	return &Compiler{column: QuoteIdent}
}

// NewJSON returns a compiler that extracts fields from the JSON document
// stored in body.
func NewJSON(body string) *Compiler {
	return &Compiler{column: func(field string) string {
		path := `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
		return fmt.Sprintf("json_extract(%s, %s)", body, quoteString(path))
	}}
}

// Statement names the relation a query reads from. Scope is an optional
// raw condition ANDed in front of the predicates; Args bind its
// placeholders.
type Statement struct {
	Columns string
	From    string
	Scope   string
	Args    []any
}

// Column returns the SQL expression for field.
func (c *Compiler) Column(field string) string {
	return c.column(field)
}

// Where compiles a conjunction of predicates. An empty list is always true.
func (c *Compiler) Where(preds []query.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(preds))
	var params []any
	for _, p := range preds {
		sql, args, err := c.predicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, args...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// Select compiles a paged read of q from st.
func (c *Compiler) Select(st Statement, q query.Query) (string, []any, error) {
	where, params, err := c.scoped(st, q.Where)
	if err != nil {
		return "", nil, err
	}

	columns := st.Columns
	if columns == "" {
		columns = "*"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s", columns, st.From, where)
	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms[i] = c.column(o.Field) + " " + dir
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}
	switch {
	case q.Limit > 0:
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
		if q.Offset > 0 {
			b.WriteString(" OFFSET ?")
			params = append(params, q.Offset)
		}
	case q.Offset > 0:
		b.WriteString(" LIMIT -1 OFFSET ?")
		params = append(params, q.Offset)
	}
	return b.String(), params, nil
}

// Count compiles a count of the rows matching q, ignoring paging.
func (c *Compiler) Count(st Statement, q query.Query) (string, []any, error) {
	where, params, err := c.scoped(st, q.Where)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", st.From, where), params, nil
}

func (c *Compiler) scoped(st Statement, preds []query.Predicate) (string, []any, error) {
	where, params, err := c.Where(preds)
	if err != nil {
		return "", nil, err
	}
	if st.Scope == "" {
		return where, params, nil
	}
	all := append(append([]any{}, st.Args...), params...)
	if len(preds) == 0 {
		return st.Scope, all, nil
	}
	return st.Scope + " AND " + where, all, nil
}

func (c *Compiler) predicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case query.Compare:
		op, ok := comparisons[pred.Op]
		if !ok {
			return "", nil, fmt.Errorf("sqlquery: operator %s is not a comparison", pred.Op)
		}
		return fmt.Sprintf("%s %s ?", c.column(pred.Field), op), []any{Param(pred.Value)}, nil
	case query.InSet:
		if len(pred.Values) == 0 {
			return "0 = 1", nil, nil
		}
		marks := make([]string, len(pred.Values))
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			marks[i] = "?"
			params[i] = Param(v)
		}
		return fmt.Sprintf("%s IN (%s)", c.column(pred.Field), strings.Join(marks, ", ")), params, nil
	case query.Like:
		pattern := "%" + escapeLike(strings.ToLower(pred.Substring)) + "%"
		return fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, c.column(pred.Field)), []any{pattern}, nil
	case query.Is:
		if pred.Value == nil {
			return c.column(pred.Field) + " IS NULL", nil, nil
		}
		return c.column(pred.Field) + " IS ?", []any{Param(pred.Value)}, nil
	case query.Or:
		if len(pred.Predicates) == 0 {
			return "0 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, inner := range pred.Predicates {
			sql, args, err := c.predicate(inner)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, args...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", params, nil
	default:
		return "", nil, fmt.Errorf("sqlquery: unsupported predicate %T", p)
	}
}

var comparisons = map[query.Operator]string{
	query.Eq:  "=",
	query.Gt:  ">",
	query.Lt:  "<",
	query.Gte: ">=",
	query.Lte: "<=",
}

// Param converts a document value into a driver parameter. SQLite has no
// boolean type, so bools bind as 1 or 0.
func Param(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Package sqlremote implements remote.Remote directly over a relational
// database through database/sql, using the modernc.org/sqlite driver.
//
// Each collection is a table with one column per field. Predicates are
// compiled to parameterized SQL by internal/sqlquery, and driver
// constraint errors are mapped onto the same API error classes an HTTP
// backend reports: a unique violation becomes a 409 with code 23505.
package sqlremote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/agentstation/rallysync/internal/sqlquery"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote"
)

// Backend is the name reported in API errors.
const Backend = "sqlite"

var _ remote.Remote = (*Remote)(nil)

// Remote replicates to tables of a SQL database.
type Remote struct {
	db       *sql.DB
	compiler *sqlquery.Compiler
	logger   *zerolog.Logger
}

// Option configures a Remote.
type Option func(*Remote)

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Remote) { r.logger = logger }
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Remote {
	r := &Remote{db: db, compiler: sqlquery.New()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		nop := zerolog.Nop()
		r.logger = &nop
	}
	return r
}

// Open opens the SQLite database at dsn.
func Open(dsn string, opts ...Option) (*Remote, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapIO("open", dsn, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying handle.
func (r *Remote) DB() *sql.DB {
	return r.db
}

// Close closes the database.
func (r *Remote) Close() error {
	return r.db.Close()
}

// Query implements remote.Remote.
func (r *Remote) Query(ctx context.Context, q query.Query) (remote.Page, error) {
	st := sqlquery.Statement{From: sqlquery.QuoteIdent(q.Collection)}
	stmt, args, err := r.compiler.Select(st, q)
	if err != nil {
		return remote.Page{}, err
	}

	total := remote.UnknownTotal
	if q.Count {
		countStmt, countArgs, err := r.compiler.Count(st, q)
		if err != nil {
			return remote.Page{}, err
		}
		if err := r.db.QueryRowContext(ctx, countStmt, countArgs...).Scan(&total); err != nil {
			return remote.Page{}, r.mapError("count", q.Collection, err)
		}
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return remote.Page{}, r.mapError("query", q.Collection, err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanDocuments(rows)
	if err != nil {
		return remote.Page{}, r.mapError("query", q.Collection, err)
	}
	return remote.Page{Records: records, Total: total}, nil
}

// Insert implements remote.Remote.
func (r *Remote) Insert(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	fields := doc.Fields()
	if len(fields) == 0 {
		return nil, errors.NewValidationError("document", doc, "must have at least one field")
	}
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	args := make([]any, len(fields))
	var err error
	for i, f := range fields {
		cols[i] = sqlquery.QuoteIdent(f)
		marks[i] = "?"
		if args[i], err = param(doc[f]); err != nil {
			return nil, err
		}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlquery.QuoteIdent(collection), strings.Join(cols, ", "), strings.Join(marks, ", "))

	if _, err = r.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, r.mapError("insert", collection, err)
	}
	return doc.Clone(), nil
}

// Update implements remote.Remote.
func (r *Remote) Update(ctx context.Context, collection string, key remote.Key, doc document.Document) (document.Document, error) {
	fields := slices.DeleteFunc(doc.Fields(), func(f string) bool { return f == key.Field })
	if len(fields) == 0 {
		return doc.Clone(), nil
	}
	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		sets[i] = sqlquery.QuoteIdent(f) + " = ?"
		v, err := param(doc[f])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	args = append(args, key.Value)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		sqlquery.QuoteIdent(collection), strings.Join(sets, ", "), sqlquery.QuoteIdent(key.Field))

	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, r.mapError("update", collection, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.NewNotFoundError(collection, key.Value)
	}
	return doc.Clone(), nil
}

// Delete implements remote.Remote.
func (r *Remote) Delete(ctx context.Context, collection string, key remote.Key) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		sqlquery.QuoteIdent(collection), sqlquery.QuoteIdent(key.Field))
	res, err := r.db.ExecContext(ctx, stmt, key.Value)
	if err != nil {
		return r.mapError("delete", collection, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError(collection, key.Value)
	}
	return nil
}

// param converts a document value into a bind parameter. Objects and
// arrays are stored as JSON text.
func param(v any) (any, error) {
	switch v.(type) {
	case map[string]any, document.Document, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WrapParse("json", "field", err)
		}
		return string(b), nil
	}
	return sqlquery.Param(v), nil
}

// scanDocuments reads every row into a document. Columns declared
// BOOLEAN come back as bools rather than SQLite's 0 and 1.
func scanDocuments(rows *sql.Rows) ([]document.Document, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	docs := make([]document.Document, 0)
	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		doc := make(document.Document, len(types))
		for i, ct := range types {
			doc[ct.Name()] = convert(values[i], ct.DatabaseTypeName())
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func convert(v any, declType string) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		if strings.EqualFold(declType, "BOOLEAN") || strings.EqualFold(declType, "BOOL") {
			return t != 0
		}
	}
	return v
}

// mapError translates driver errors into API errors the worker can
// classify.
func (r *Remote) mapError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		// Context cancellation and other non-driver errors pass through.
		return err
	}
	apiErr := &errors.APIError{
		Backend:  Backend,
		Endpoint: op + " " + collection,
		Message:  err.Error(),
		Err:      err,
	}
	code := se.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
		strings.Contains(err.Error(), "UNIQUE constraint failed"):
		apiErr.StatusCode = http.StatusConflict
		apiErr.Code = errors.ConflictCode
	case code&0xff == sqlite3.SQLITE_CONSTRAINT:
		apiErr.StatusCode = http.StatusBadRequest
		apiErr.Code = "23000"
	case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
		apiErr.StatusCode = http.StatusServiceUnavailable
	default:
		// Unknown tables or columns and other statement errors are the
		// document's or caller's fault, not the backend's.
		apiErr.StatusCode = http.StatusBadRequest
	}
	r.logger.Debug().
		Err(err).
		Str("collection", collection).
		Str("operation", op).
		Int("sqlite_code", code).
		Int("status", apiErr.StatusCode).
		Msg("Mapped driver error")
	return apiErr
}

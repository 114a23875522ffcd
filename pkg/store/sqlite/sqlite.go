// Package sqlite provides an embedded on-disk implementation of
// store.Store backed by modernc.org/sqlite (pure Go, no cgo).
//
// Documents are stored as JSON bodies in a single table keyed by
// (collection, key); predicates are compiled against the body with
// json_extract.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/agentstation/rallysync/internal/sqlquery"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	body       TEXT,
	synced     INTEGER NOT NULL DEFAULT 0,
	pending_op INTEGER,
	revision   INTEGER NOT NULL,
	PRIMARY KEY (collection, key)
);
CREATE INDEX IF NOT EXISTS documents_pending ON documents (collection, revision) WHERE pending_op IS NOT NULL;
CREATE TABLE IF NOT EXISTS checkpoints (
	collection TEXT PRIMARY KEY,
	value      TEXT NOT NULL
);`

// Store is a SQLite-backed local store.
type Store struct {
	db       *sql.DB
	compiler *sqlquery.Compiler
}

// Open opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapIO("open", path, err)
	}

	// SQLite has a single writer; one connection also keeps a :memory:
	// database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db, compiler: sqlquery.NewJSON("body")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query implements store.Local.
func (s *Store) Query(ctx context.Context, collection string, preds []query.Predicate) ([]document.Document, error) {
	st := sqlquery.Statement{
		Columns: "body",
		From:    "documents",
		Scope:   "collection = ? AND body IS NOT NULL",
		Args:    []any{collection},
	}
	stmt, args, err := s.compiler.Select(st, query.Query{Where: preds})
	if err != nil {
		return nil, err
	}
	stmt += " ORDER BY key"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WrapResource("query", "collection", collection, err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]document.Document, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		doc, err := decode(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Upsert implements store.Local.
func (s *Store) Upsert(ctx context.Context, collection, key string, doc document.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapParse("json", key, err)
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		rev, err := nextRevision(ctx, tx, collection)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, key, body, synced, pending_op, revision)
			VALUES (?, ?, ?, 1, NULL, ?)
			ON CONFLICT (collection, key) DO UPDATE SET
				body = excluded.body, synced = 1, pending_op = NULL, revision = excluded.revision`,
			collection, key, string(body), rev)
		return err
	})
}

// Pending implements store.Local.
func (s *Store) Pending(ctx context.Context, collection string) ([]document.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, body, pending_op, revision FROM documents
		WHERE collection = ? AND pending_op IS NOT NULL
		ORDER BY revision`, collection)
	if err != nil {
		return nil, errors.WrapResource("pending", "collection", collection, err)
	}
	defer func() { _ = rows.Close() }()

	changes := make([]document.Change, 0)
	for rows.Next() {
		var (
			ch   document.Change
			body sql.NullString
			op   int
		)
		if err := rows.Scan(&ch.Key, &body, &op, &ch.Revision); err != nil {
			return nil, err
		}
		ch.Op = document.Op(op)
		if body.Valid {
			if ch.Doc, err = decode(body.String); err != nil {
				return nil, err
			}
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// MarkSynced implements store.Local.
func (s *Store) MarkSynced(ctx context.Context, collection, key string, revision int64) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		var (
			op  sql.NullInt64
			rev int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT pending_op, revision FROM documents WHERE collection = ? AND key = ?`,
			collection, key).Scan(&op, &rev)
		if err == sql.ErrNoRows {
			return errors.NewNotFoundError("document", key)
		}
		if err != nil {
			return err
		}
		if !op.Valid || rev > revision {
			return nil
		}
		if document.Op(op.Int64) == document.OpDelete {
			_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND key = ?`, collection, key)
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET pending_op = NULL, synced = 1 WHERE collection = ? AND key = ?`,
			collection, key)
		return err
	})
}

// Checkpoint implements store.Local.
func (s *Store) Checkpoint(ctx context.Context, collection string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE collection = ?`, collection).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, errors.WrapParse("json", "checkpoint", err)
	}
	return v, nil
}

// SaveCheckpoint implements store.Local.
func (s *Store) SaveCheckpoint(ctx context.Context, collection string, value any) error {
	if value == nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE collection = ?`, collection)
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.WrapParse("json", "checkpoint", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (collection, value) VALUES (?, ?)
		ON CONFLICT (collection) DO UPDATE SET value = excluded.value`,
		collection, string(raw))
	return err
}

// Put implements store.Writer.
func (s *Store) Put(ctx context.Context, collection, key string, doc document.Document) (int64, error) {
	if key == "" {
		return 0, errors.NewValidationError("key", key, "must not be empty")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, errors.WrapParse("json", key, err)
	}
	var rev int64
	err = s.tx(ctx, func(tx *sql.Tx) error {
		if rev, err = nextRevision(ctx, tx, collection); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, key, body, synced, pending_op, revision)
			VALUES (?, ?, ?, 0, ?, ?)
			ON CONFLICT (collection, key) DO UPDATE SET
				body = excluded.body,
				pending_op = CASE WHEN documents.synced = 1 THEN ? ELSE ? END,
				revision = excluded.revision`,
			collection, key, string(body), int(document.OpInsert), rev,
			int(document.OpUpdate), int(document.OpInsert))
		return err
	})
	return rev, err
}

// Delete implements store.Writer.
func (s *Store) Delete(ctx context.Context, collection, key string) (int64, error) {
	var rev int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		var err error
		if rev, err = nextRevision(ctx, tx, collection); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET body = NULL, pending_op = ?, revision = ?
			WHERE collection = ? AND key = ? AND body IS NOT NULL`,
			int(document.OpDelete), rev, collection, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFoundError("document", key)
		}
		return nil
	})
	return rev, err
}

// Get implements store.Writer.
func (s *Store) Get(ctx context.Context, collection, key string) (document.Document, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND key = ? AND body IS NOT NULL`,
		collection, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	doc, err := decode(body)
	return doc, err == nil, err
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nextRevision(ctx context.Context, tx *sql.Tx, collection string) (int64, error) {
	var rev int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) + 1 FROM documents WHERE collection = ?`,
		collection).Scan(&rev)
	return rev, err
}

func decode(body string) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, errors.WrapParse("json", "document", err)
	}
	return doc, nil
}

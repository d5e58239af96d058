// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/duoledger/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
//
// The pool is limited to one connection, so commits are serialized: the
// version check and the writes of a transaction run as one unit.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get retrieves a document by reference.
func (s *SQLiteStore) Get(ctx context.Context, ref storage.Ref) (*storage.Document, error) {
	doc, _, err := getDoc(ctx, s.db, ref)
	return doc, err
}

// Query returns every document matching the equality filters.
func (s *SQLiteStore) Query(ctx context.Context, q storage.Query) ([]*storage.Document, error) {
	docs, _, err := queryDocs(ctx, s.db, q)
	return docs, err
}

// Create persists a new document.
func (s *SQLiteStore) Create(ctx context.Context, ref storage.Ref, fields storage.Fields) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return apply(ctx, tx, op{kind: opCreate, ref: ref, fields: fields})
	})
}

// Set creates or overwrites a document.
func (s *SQLiteStore) Set(ctx context.Context, ref storage.Ref, fields storage.Fields) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return apply(ctx, tx, op{kind: opSet, ref: ref, fields: fields})
	})
}

// Update applies a partial update to an existing document.
func (s *SQLiteStore) Update(ctx context.Context, ref storage.Ref, u storage.Update) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return apply(ctx, tx, op{kind: opUpdate, ref: ref, update: u})
	})
}

// Delete removes a document if present.
func (s *SQLiteStore) Delete(ctx context.Context, ref storage.Ref) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return apply(ctx, tx, op{kind: opDelete, ref: ref})
	})
}

// withTx runs fn inside a SQL transaction and commits it.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func getDoc(ctx context.Context, q queryer, ref storage.Ref) (*storage.Document, int64, error) {
	var (
		data    string
		version int64
	)
	err := q.QueryRowContext(ctx,
		"SELECT data, version FROM documents WHERE collection = ? AND id = ?",
		ref.Collection, ref.ID,
	).Scan(&data, &version)
	if err == sql.ErrNoRows {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %s: %w", ref, err)
	}

	fields, err := decode(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", ref, err)
	}
	return &storage.Document{Ref: ref, Fields: fields}, version, nil
}

func queryDocs(ctx context.Context, q queryer, query storage.Query) ([]*storage.Document, []int64, error) {
	if err := query.Validate(); err != nil {
		return nil, nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT id, data, version FROM documents WHERE collection = ?")
	args := []any{query.Collection}
	for _, f := range query.Where {
		// Field names are validated above, so inlining the JSON path is safe
		// and lets SQLite use the expression indexes.
		fmt.Fprintf(&b, " AND json_extract(data, '$.%s') = ?", f.Field)
		args = append(args, bindValue(f.Value))
	}
	b.WriteString(" ORDER BY id")
	if query.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, query.Limit)
	}

	rows, err := q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query %s: %w", query.Collection, err)
	}
	defer rows.Close()

	var (
		docs     []*storage.Document
		versions []int64
	)
	for rows.Next() {
		var (
			id, data string
			version  int64
		)
		if err := rows.Scan(&id, &data, &version); err != nil {
			return nil, nil, fmt.Errorf("failed to scan document: %w", err)
		}
		fields, err := decode(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode %s/%s: %w", query.Collection, id, err)
		}
		docs = append(docs, &storage.Document{Ref: storage.Doc(query.Collection, id), Fields: fields})
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, versions, nil
}

// currentVersion returns the stored version of a document, or 0 if absent.
func currentVersion(ctx context.Context, q queryer, ref storage.Ref) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx,
		"SELECT version FROM documents WHERE collection = ? AND id = ?",
		ref.Collection, ref.ID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version of %s: %w", ref, err)
	}
	return version, nil
}

type opKind int

const (
	opCreate opKind = iota
	opSet
	opUpdate
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opSet:
		return "set"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// op is a staged write, shared by transactions and the bulk writer.
type op struct {
	kind   opKind
	ref    storage.Ref
	fields storage.Fields
	update storage.Update

	// skipMissing turns an update of an absent document into a no-op.
	skipMissing bool
}

// nextVersion draws the next value of the store-wide version sequence.
func nextVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		"UPDATE version_seq SET value = value + 1 WHERE id = 1 RETURNING value",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to draw version: %w", err)
	}
	return version, nil
}

func apply(ctx context.Context, tx *sql.Tx, o op) error {
	now := time.Now().UnixMilli()

	switch o.kind {
	case opCreate:
		version, err := currentVersion(ctx, tx, o.ref)
		if err != nil {
			return err
		}
		if version != 0 {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, o.ref)
		}
		data, err := encode(o.fields)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", o.ref, err)
		}
		next, err := nextVersion(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO documents (collection, id, data, version, updated_at) VALUES (?, ?, ?, ?, ?)",
			o.ref.Collection, o.ref.ID, data, next, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", o.ref, err)
		}

	case opSet:
		data, err := encode(o.fields)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", o.ref, err)
		}
		next, err := nextVersion(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data, version, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET
			     data = excluded.data,
			     version = excluded.version,
			     updated_at = excluded.updated_at`,
			o.ref.Collection, o.ref.ID, data, next, now,
		)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", o.ref, err)
		}

	case opUpdate:
		doc, _, err := getDoc(ctx, tx, o.ref)
		if errors.Is(err, storage.ErrNotFound) && o.skipMissing {
			return nil
		}
		if err != nil {
			return err
		}
		fields, err := o.update.Apply(doc.Fields)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", o.ref, err)
		}
		data, err := encode(fields)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", o.ref, err)
		}
		next, err := nextVersion(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE documents SET data = ?, version = ?, updated_at = ? WHERE collection = ? AND id = ?",
			data, next, now, o.ref.Collection, o.ref.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", o.ref, err)
		}

	case opDelete:
		_, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND id = ?",
			o.ref.Collection, o.ref.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", o.ref, err)
		}

	default:
		return fmt.Errorf("unknown write %d on %s", o.kind, o.ref)
	}

	return nil
}

func encode(fields storage.Fields) (string, error) {
	if fields == nil {
		fields = storage.Fields{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(data string) (storage.Fields, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var fields storage.Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// bindValue maps filter values onto what json_extract yields.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// isTransient reports whether a write may succeed if attempted again.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

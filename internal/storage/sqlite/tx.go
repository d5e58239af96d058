package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/duoledger/internal/storage"
)

// RunTransaction runs fn with optimistic concurrency control.
//
// Reads go straight to the database and remember the version they saw
// (0 for an absent document). Writes are staged. At commit the versions of the
// whole read set are checked again inside one SQL transaction; any change
// aborts with storage.ErrConflict and nothing is written.
func (s *SQLiteStore) RunTransaction(ctx context.Context, fn storage.TxFunc) error {
	t := &txn{db: s.db, reads: make(map[string]readMark)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if len(t.writes) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for path, mark := range t.reads {
			version, err := currentVersion(ctx, tx, mark.ref)
			if err != nil {
				return err
			}
			if version != mark.version {
				return fmt.Errorf("%w: %s changed (read v%d, now v%d)", storage.ErrConflict, path, mark.version, version)
			}
		}
		for _, o := range t.writes {
			if err := apply(ctx, tx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

type readMark struct {
	ref     storage.Ref
	version int64
}

// txn implements storage.Tx.
type txn struct {
	db     *sql.DB
	reads  map[string]readMark
	writes []op
}

func (t *txn) track(ref storage.Ref, version int64) {
	// The first observation wins: if a later read sees a newer version the
	// commit check fails anyway.
	if _, ok := t.reads[ref.Path()]; !ok {
		t.reads[ref.Path()] = readMark{ref: ref, version: version}
	}
}

func (t *txn) Get(ctx context.Context, ref storage.Ref) (*storage.Document, error) {
	if len(t.writes) > 0 {
		return nil, storage.ErrReadAfterWrite
	}
	doc, version, err := getDoc(ctx, t.db, ref)
	if errors.Is(err, storage.ErrNotFound) {
		t.track(ref, 0)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	t.track(ref, version)
	return doc, nil
}

func (t *txn) Query(ctx context.Context, q storage.Query) ([]*storage.Document, error) {
	if len(t.writes) > 0 {
		return nil, storage.ErrReadAfterWrite
	}
	docs, versions, err := queryDocs(ctx, t.db, q)
	if err != nil {
		return nil, err
	}
	for i, doc := range docs {
		t.track(doc.Ref, versions[i])
	}
	return docs, nil
}

func (t *txn) Create(ref storage.Ref, fields storage.Fields) {
	t.writes = append(t.writes, op{kind: opCreate, ref: ref, fields: fields})
}

func (t *txn) Set(ref storage.Ref, fields storage.Fields) {
	t.writes = append(t.writes, op{kind: opSet, ref: ref, fields: fields})
}

func (t *txn) Update(ref storage.Ref, u storage.Update) {
	t.writes = append(t.writes, op{kind: opUpdate, ref: ref, update: u})
}

func (t *txn) Delete(ref storage.Ref) {
	t.writes = append(t.writes, op{kind: opDelete, ref: ref})
}

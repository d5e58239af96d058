package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mmynk/duoledger/internal/storage"
)

// Server error code for a write that lost against a concurrent transaction.
const writeConflictCode = 112

const (
	labelTransient     = "TransientTransactionError"
	labelUnknownCommit = "UnknownTransactionCommitResult"
)

// maxCommitAttempts bounds how often a commit with an unknown outcome is sent again.
const maxCommitAttempts = 5

// RunTransaction runs fn with optimistic concurrency control.
//
// Reads go straight to the database and remember the version they saw
// (0 for an absent document). Writes are staged. At commit a Mongo
// transaction bumps the version of every document that was read, guarded by
// the version seen, and then applies the writes. Bumping read-only documents
// makes two commits that read the same document collide, so a concurrent
// change surfaces as storage.ErrConflict instead of a lost update.
func (s *Store) RunTransaction(ctx context.Context, fn storage.TxFunc) error {
	t := &txn{store: s, reads: make(map[string]readMark)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if len(t.writes) == 0 {
		return nil
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if err := t.commit(sc); err != nil {
			_ = sess.AbortTransaction(context.WithoutCancel(sc))
			return err
		}
		return commitTransaction(sc, sess)
	})
	if isConflict(err) && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	}
	return err
}

func (t *txn) commit(ctx context.Context) error {
	for path, mark := range t.reads {
		coll := t.store.coll(mark.ref)
		if mark.version == 0 {
			n, err := coll.CountDocuments(ctx, byID(mark.ref), options.Count().SetLimit(1))
			if err != nil {
				return fmt.Errorf("failed to check %s: %w", path, err)
			}
			if n != 0 {
				return fmt.Errorf("%w: %s was created", storage.ErrConflict, path)
			}
			continue
		}
		res, err := coll.UpdateOne(ctx,
			bson.D{{Key: idField, Value: mark.ref.ID}, {Key: versionField, Value: mark.version}},
			bson.D{{Key: "$inc", Value: bson.D{{Key: versionField, Value: 1}}}},
		)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%w: %s changed since read v%d", storage.ErrConflict, path, mark.version)
		}
	}

	for _, o := range t.writes {
		var err error
		switch o.kind {
		case opCreate:
			err = t.store.create(ctx, o.ref, o.fields)
		case opSet:
			err = t.store.Set(ctx, o.ref, o.fields)
		case opUpdate:
			err = t.store.update(ctx, o.ref, o.update, false)
		case opDelete:
			err = t.store.Delete(ctx, o.ref)
		default:
			err = fmt.Errorf("unknown write %d on %s", o.kind, o.ref)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type committer interface {
	CommitTransaction(ctx context.Context) error
}

// commitTransaction sends the commit again while the server reports its
// outcome as unknown. Commit is idempotent on the server, so a repeated
// commit never applies the writes twice.
func commitTransaction(ctx context.Context, sess committer) error {
	var err error
	for range maxCommitAttempts {
		err = sess.CommitTransaction(ctx)
		if !hasLabel(err, labelUnknownCommit) {
			return err
		}
	}
	return fmt.Errorf("commit outcome unknown after %d attempts: %w", maxCommitAttempts, err)
}

// isConflict reports whether err means the transaction lost a race and may
// succeed when run again from scratch. An unknown commit result is not a
// conflict: the writes may have landed.
func isConflict(err error) bool {
	if hasLabel(err, labelUnknownCommit) {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel(labelTransient) || se.HasErrorCode(writeConflictCode)
	}
	return false
}

func hasLabel(err error, label string) bool {
	var se mongo.ServerError
	return err != nil && errors.As(err, &se) && se.HasErrorLabel(label)
}

type readMark struct {
	ref     storage.Ref
	version int64
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

// op is a staged write.
type op struct {
	kind   opKind
	ref    storage.Ref
	fields storage.Fields
	update storage.Update
}

// txn implements storage.Tx.
type txn struct {
	store  *Store
	reads  map[string]readMark
	writes []op
}

func (t *txn) track(ref storage.Ref, version int64) {
	if _, ok := t.reads[ref.Path()]; !ok {
		t.reads[ref.Path()] = readMark{ref: ref, version: version}
	}
}

func (t *txn) Get(ctx context.Context, ref storage.Ref) (*storage.Document, error) {
	if len(t.writes) > 0 {
		return nil, storage.ErrReadAfterWrite
	}
	doc, version, err := t.store.getDoc(ctx, ref)
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
	docs, versions, err := t.store.queryDocs(ctx, q)
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

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mmynk/duoledger/internal/storage"
)

// newStore connects to the replica set named by DUO_TEST_MONGO_URI and uses a
// throwaway database.
func newStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("DUO_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DUO_TEST_MONGO_URI not set; needs a replica set for transactions")
	}
	database := fmt.Sprintf("duoledger_test_%d", time.Now().UnixNano())
	store, err := Open(context.Background(), uri, database)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		store.db.Drop(context.Background())
		store.Close()
	})
	return store
}

func TestStore_CRUD(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	bob := storage.Doc(storage.CollectionUsers, "bob")

	if err := store.Create(ctx, bob, storage.Fields{"displayName": "Bob", "partnerUids": []string{"alice"}, "createdAt": int64(1700000000000)}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, bob, storage.Fields{}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	doc, err := store.Get(ctx, bob)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, ok := doc.Fields[idField]; ok {
		t.Error("bookkeeping _id leaked into fields")
	}
	if doc.Fields["createdAt"] != int64(1700000000000) {
		t.Errorf("createdAt = %#v", doc.Fields["createdAt"])
	}

	err = store.Update(ctx, bob, storage.Update{
		ArrayUnion:  map[string][]string{"partnerUids": {"carol"}},
		ArrayRemove: map[string][]string{"partnerUids": {"alice"}},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	doc, err = store.Get(ctx, bob)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	partners, err := storage.StringSlice(doc.Fields["partnerUids"])
	if err != nil || !slices.Equal(partners, []string{"carol"}) {
		t.Errorf("partnerUids = %v (%v), want [carol]", partners, err)
	}

	if err := store.Update(ctx, storage.Doc(storage.CollectionUsers, "nobody"), storage.SetFields(storage.Fields{"x": 1})); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, bob, storage.Fields{"note": "$notAPath"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	doc, err = store.Get(ctx, bob)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Fields["note"] != "$notAPath" || doc.Fields["displayName"] != nil {
		t.Errorf("Set did not overwrite literally: %v", doc.Fields)
	}

	if err := store.Delete(ctx, bob); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, bob); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, bob); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Query(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for id, fields := range map[string]storage.Fields{
		"t2": {"senderUid": "alice", "receiverUid": "bob", "isDeleted": false},
		"t1": {"senderUid": "alice", "receiverUid": "bob", "isDeleted": true},
		"t3": {"senderUid": "alice", "receiverUid": "carol"},
	} {
		if err := store.Create(ctx, storage.Doc(storage.CollectionTransactions, id), fields); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	docs, err := store.Query(ctx, storage.Where(storage.CollectionTransactions, "senderUid", "alice").And("receiverUid", "bob"))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 2 || docs[0].Ref.ID != "t1" || docs[1].Ref.ID != "t2" {
		t.Errorf("unexpected result: %v", docs)
	}

	docs, err = store.Query(ctx, storage.Where(storage.CollectionTransactions, "senderUid", "alice").WithLimit(1))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Ref.ID != "t1" {
		t.Errorf("unexpected limited result: %v", docs)
	}
}

func TestStore_RunTransaction(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	ref := storage.Doc(storage.CollectionSettlementRequests, "r1")
	if err := store.Create(ctx, ref, storage.Fields{"status": "PENDING"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Get(ctx, ref); err != nil {
			return err
		}
		if err := store.Update(ctx, ref, storage.SetFields(storage.Fields{"status": "REJECTED"})); err != nil {
			return err
		}
		tx.Update(ref, storage.SetFields(storage.Fields{"status": "COMPLETED"}))
		return nil
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	err = store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Get(ctx, ref); err != nil {
			return err
		}
		tx.Update(ref, storage.SetFields(storage.Fields{"status": "COMPLETED"}))
		tx.Create(storage.Doc(storage.CollectionSettlements, "s1"), storage.Fields{"payerUid": "alice"})
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}
	doc, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Fields["status"] != "COMPLETED" {
		t.Errorf("status = %v, want COMPLETED", doc.Fields["status"])
	}
}

func TestStore_BulkWriter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	bob := storage.Doc(storage.CollectionUsers, "bob")
	t1 := storage.Doc(storage.CollectionTransactions, "t1")
	if err := store.Create(ctx, bob, storage.Fields{"partnerUids": []string{"alice", "carol"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, t1, storage.Fields{"senderUid": "alice"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	w := store.BulkWriter()
	w.Update(bob, storage.RemoveFromArray("partnerUids", "alice"))
	w.Update(storage.Doc(storage.CollectionUsers, "gone"), storage.RemoveFromArray("partnerUids", "alice"))
	w.Delete(t1)
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	doc, err := store.Get(ctx, bob)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	partners, _ := storage.StringSlice(doc.Fields["partnerUids"])
	if !slices.Equal(partners, []string{"carol"}) {
		t.Errorf("partnerUids = %v, want [carol]", partners)
	}
	if _, err := store.Get(ctx, t1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("t1 not deleted: %v", err)
	}
	if _, err := store.Get(ctx, storage.Doc(storage.CollectionUsers, "gone")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("skipped update created a document: %v", err)
	}
}

func TestUpdateDocs(t *testing.T) {
	docs := updateDocs(storage.Update{
		Set:         storage.Fields{"status": "DONE"},
		ArrayUnion:  map[string][]string{"partnerUids": {"carol"}},
		ArrayRemove: map[string][]string{"partnerUids": {"alice"}},
	})
	if len(docs) != 2 {
		t.Fatalf("expected union and pull in separate documents, got %d", len(docs))
	}
	keys := func(d bson.D) []string {
		var out []string
		for _, e := range d {
			out = append(out, e.Key)
		}
		return out
	}
	if got := keys(docs[0]); !slices.Equal(got, []string{"$inc", "$set", "$addToSet"}) {
		t.Errorf("first update keys = %v", got)
	}
	if got := keys(docs[1]); !slices.Equal(got, []string{"$pull", "$inc"}) {
		t.Errorf("second update keys = %v", got)
	}

	if docs := updateDocs(storage.SetFields(storage.Fields{"a": 1})); len(docs) != 1 {
		t.Errorf("plain set should be one update, got %d", len(docs))
	}
}

func TestDecode(t *testing.T) {
	fields, version := decode(bson.M{
		idField:       "bob",
		versionField:  int32(3),
		"partnerUids": primitive.A{"alice"},
		"timestamp":   int64(42),
	})
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}
	if _, ok := fields[idField]; ok {
		t.Error("_id not stripped")
	}
	if _, ok := fields[versionField]; ok {
		t.Error("_v not stripped")
	}
	partners, err := storage.StringSlice(fields["partnerUids"])
	if err != nil || !slices.Equal(partners, []string{"alice"}) {
		t.Errorf("partnerUids = %v (%v)", partners, err)
	}
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "transient", err: mongo.CommandError{Labels: []string{labelTransient}}, want: true},
		{name: "write conflict", err: mongo.CommandError{Code: writeConflictCode}, want: true},
		{name: "unknown commit", err: mongo.CommandError{Labels: []string{labelUnknownCommit}}, want: false},
		{
			name: "unknown commit wins over transient",
			err:  mongo.CommandError{Labels: []string{labelTransient, labelUnknownCommit}},
			want: false,
		},
		{name: "wrapped", err: fmt.Errorf("commit: %w", mongo.CommandError{Code: writeConflictCode}), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConflict(tt.err); got != tt.want {
				t.Errorf("isConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// scriptedCommits returns its errors in order, then nil.
type scriptedCommits struct {
	errs  []error
	calls int
}

func (s *scriptedCommits) CommitTransaction(context.Context) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func TestCommitTransaction(t *testing.T) {
	unknown := mongo.CommandError{Labels: []string{labelUnknownCommit}}
	ctx := context.Background()

	t.Run("unknown outcome is committed again", func(t *testing.T) {
		sess := &scriptedCommits{errs: []error{unknown, unknown}}
		if err := commitTransaction(ctx, sess); err != nil {
			t.Fatalf("expected the third commit to succeed, got %v", err)
		}
		if sess.calls != 3 {
			t.Errorf("calls = %d, want 3", sess.calls)
		}
	})

	t.Run("other errors return at once", func(t *testing.T) {
		transient := mongo.CommandError{Labels: []string{labelTransient}}
		sess := &scriptedCommits{errs: []error{transient}}
		err := commitTransaction(ctx, sess)
		if sess.calls != 1 || !isConflict(err) {
			t.Errorf("calls = %d, err = %v; want one call and a conflict", sess.calls, err)
		}
	})

	t.Run("bounded", func(t *testing.T) {
		errs := make([]error, maxCommitAttempts+1)
		for i := range errs {
			errs[i] = unknown
		}
		sess := &scriptedCommits{errs: errs}
		err := commitTransaction(ctx, sess)
		if err == nil || isConflict(err) {
			t.Fatalf("expected a non-conflict error, got %v", err)
		}
		if sess.calls != maxCommitAttempts {
			t.Errorf("calls = %d, want %d", sess.calls, maxCommitAttempts)
		}
	})
}

package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/mmynk/duoledger/internal/storage"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "duoledger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	store, err := New(filepath.Join(tempDir, "nested", "test.db"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.RemoveAll(tempDir)
	})
	return store
}

func mustStrings(t *testing.T, v any) []string {
	t.Helper()
	out, err := storage.StringSlice(v)
	if err != nil {
		t.Fatalf("not a string array: %v", err)
	}
	return out
}

func TestSQLiteStore(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	alice := storage.Doc(storage.CollectionUsers, "alice")

	t.Run("Create and Get round trip", func(t *testing.T) {
		err := store.Create(ctx, alice, storage.Fields{
			"displayName": "Alice",
			"partnerUids": []string{"bob"},
			"fcmToken":    nil,
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		doc, err := store.Get(ctx, alice)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if doc.Ref != alice {
			t.Errorf("Ref = %v, want %v", doc.Ref, alice)
		}
		if doc.Fields["displayName"] != "Alice" {
			t.Errorf("displayName = %v, want Alice", doc.Fields["displayName"])
		}
		if got := mustStrings(t, doc.Fields["partnerUids"]); !slices.Equal(got, []string{"bob"}) {
			t.Errorf("partnerUids = %v, want [bob]", got)
		}
		if v, ok := doc.Fields["fcmToken"]; !ok || v != nil {
			t.Errorf("fcmToken = %v (present %v), want stored null", v, ok)
		}
	})

	t.Run("Create existing document fails", func(t *testing.T) {
		err := store.Create(ctx, alice, storage.Fields{"displayName": "Other"})
		if !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("Get missing document", func(t *testing.T) {
		_, err := store.Get(ctx, storage.Doc(storage.CollectionUsers, "nobody"))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update applies array operators", func(t *testing.T) {
		err := store.Update(ctx, alice, storage.Update{
			Set:        storage.Fields{"displayName": "Alicia"},
			ArrayUnion: map[string][]string{"partnerUids": {"bob", "carol"}},
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if err := store.Update(ctx, alice, storage.RemoveFromArray("partnerUids", "bob")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		doc, err := store.Get(ctx, alice)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if doc.Fields["displayName"] != "Alicia" {
			t.Errorf("displayName = %v, want Alicia", doc.Fields["displayName"])
		}
		if got := mustStrings(t, doc.Fields["partnerUids"]); !slices.Equal(got, []string{"carol"}) {
			t.Errorf("partnerUids = %v, want [carol]", got)
		}
	})

	t.Run("Update missing document fails", func(t *testing.T) {
		err := store.Update(ctx, storage.Doc(storage.CollectionUsers, "nobody"), storage.SetFields(storage.Fields{"x": 1}))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Set overwrites the whole document", func(t *testing.T) {
		if err := store.Set(ctx, alice, storage.Fields{"email": "alice@example.com"}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		doc, err := store.Get(ctx, alice)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if _, ok := doc.Fields["displayName"]; ok {
			t.Error("expected displayName to be gone after Set")
		}
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		if err := store.Delete(ctx, alice); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete(ctx, alice); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if _, err := store.Get(ctx, alice); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestSQLiteStore_Query(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	seed := map[string]storage.Fields{
		"t3": {"senderUid": "alice", "receiverUid": "bob", "isDeleted": false, "amount": "3"},
		"t1": {"senderUid": "alice", "receiverUid": "bob", "isDeleted": true, "amount": "1"},
		"t2": {"senderUid": "alice", "receiverUid": "carol", "isDeleted": false, "amount": "2"},
		"t4": {"senderUid": "bob", "receiverUid": "alice", "amount": "4"},
	}
	for id, fields := range seed {
		if err := store.Create(ctx, storage.Doc(storage.CollectionTransactions, id), fields); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	// Same field values in another collection must not leak into results.
	if err := store.Create(ctx, storage.Doc(storage.CollectionSettlements, "s1"), storage.Fields{"senderUid": "alice"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ids := func(docs []*storage.Document) []string {
		out := make([]string, 0, len(docs))
		for _, d := range docs {
			out = append(out, d.Ref.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		query storage.Query
		want  []string
	}{
		{
			name:  "single field ordered by id",
			query: storage.Where(storage.CollectionTransactions, "senderUid", "alice"),
			want:  []string{"t1", "t2", "t3"},
		},
		{
			name:  "conjunction",
			query: storage.Where(storage.CollectionTransactions, "senderUid", "alice").And("receiverUid", "bob"),
			want:  []string{"t1", "t3"},
		},
		{
			name:  "boolean filter",
			query: storage.Where(storage.CollectionTransactions, "isDeleted", true),
			want:  []string{"t1"},
		},
		{
			name:  "limit",
			query: storage.Where(storage.CollectionTransactions, "senderUid", "alice").WithLimit(2),
			want:  []string{"t1", "t2"},
		},
		{
			name:  "no match",
			query: storage.Where(storage.CollectionTransactions, "senderUid", "dave"),
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if got := ids(docs); !slices.Equal(got, tt.want) {
				t.Errorf("Query = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("invalid field name", func(t *testing.T) {
		_, err := store.Query(ctx, storage.Where(storage.CollectionTransactions, "x') OR 1=1 --", "a"))
		if err == nil {
			t.Fatal("expected error for invalid field name")
		}
	})
}

func TestSQLiteStore_RunTransaction(t *testing.T) {
	ctx := context.Background()
	ref := storage.Doc(storage.CollectionSettlementRequests, "r1")

	t.Run("commits staged writes", func(t *testing.T) {
		store := newStore(t)
		if err := store.Create(ctx, ref, storage.Fields{"status": "PENDING"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		other := storage.Doc(storage.CollectionSettlements, "s1")

		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Get(ctx, ref); err != nil {
				return err
			}
			tx.Update(ref, storage.SetFields(storage.Fields{"status": "COMPLETED"}))
			tx.Create(other, storage.Fields{"payerUid": "alice"})
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
		if _, err := store.Get(ctx, other); err != nil {
			t.Errorf("created document missing: %v", err)
		}
	})

	t.Run("detects a concurrent update", func(t *testing.T) {
		store := newStore(t)
		if err := store.Create(ctx, ref, storage.Fields{"status": "PENDING"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		marker := storage.Doc(storage.CollectionSettlements, "s1")

		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Get(ctx, ref); err != nil {
				return err
			}
			// Another writer gets in between the read and the commit.
			if err := store.Update(ctx, ref, storage.SetFields(storage.Fields{"status": "REJECTED"})); err != nil {
				return err
			}
			tx.Update(ref, storage.SetFields(storage.Fields{"status": "COMPLETED"}))
			tx.Create(marker, storage.Fields{})
			return nil
		})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		doc, err := store.Get(ctx, ref)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if doc.Fields["status"] != "REJECTED" {
			t.Errorf("status = %v, want the concurrent REJECTED", doc.Fields["status"])
		}
		if _, err := store.Get(ctx, marker); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("staged create leaked: %v", err)
		}
	})

	t.Run("detects a concurrent create of an absent document", func(t *testing.T) {
		store := newStore(t)
		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Get(ctx, ref); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := store.Create(ctx, ref, storage.Fields{"status": "PENDING"}); err != nil {
				return err
			}
			tx.Set(ref, storage.Fields{"status": "COMPLETED"})
			return nil
		})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("detects a document deleted and created again", func(t *testing.T) {
		store := newStore(t)
		if err := store.Create(ctx, ref, storage.Fields{"status": "PENDING"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Get(ctx, ref); err != nil {
				return err
			}
			if err := store.Delete(ctx, ref); err != nil {
				return err
			}
			if err := store.Create(ctx, ref, storage.Fields{"status": "REJECTED"}); err != nil {
				return err
			}
			tx.Update(ref, storage.SetFields(storage.Fields{"status": "COMPLETED"}))
			return nil
		})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}

		doc, err := store.Get(ctx, ref)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if doc.Fields["status"] != "REJECTED" {
			t.Errorf("status = %v, want the recreated REJECTED", doc.Fields["status"])
		}
	})

	t.Run("versions survive reopening", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reopen.db")
		store, err := New(path)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := store.Create(ctx, ref, storage.Fields{"status": "PENDING"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		_, before, err := getDoc(ctx, store.db, ref)
		if err != nil {
			t.Fatalf("getDoc failed: %v", err)
		}
		store.Close()

		store, err = New(path)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer store.Close()
		if err := store.Delete(ctx, ref); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Create(ctx, ref, storage.Fields{"status": "PENDING"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		_, after, err := getDoc(ctx, store.db, ref)
		if err != nil {
			t.Fatalf("getDoc failed: %v", err)
		}
		if after <= before {
			t.Errorf("version went from %d to %d after recreate", before, after)
		}
	})

	t.Run("detects a concurrent change to a queried document", func(t *testing.T) {
		store := newStore(t)
		tr := storage.Doc(storage.CollectionTransactions, "t1")
		if err := store.Create(ctx, tr, storage.Fields{"senderUid": "alice", "isSettled": false}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			docs, err := tx.Query(ctx, storage.Where(storage.CollectionTransactions, "senderUid", "alice"))
			if err != nil {
				return err
			}
			if err := store.Update(ctx, tr, storage.SetFields(storage.Fields{"isSettled": true})); err != nil {
				return err
			}
			for _, d := range docs {
				tx.Update(d.Ref, storage.SetFields(storage.Fields{"settlementId": "s2"}))
			}
			return nil
		})
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("function error rolls back", func(t *testing.T) {
		store := newStore(t)
		boom := errors.New("boom")
		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			tx.Create(ref, storage.Fields{})
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := store.Get(ctx, ref); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("write leaked: %v", err)
		}
	})

	t.Run("reads after writes are rejected", func(t *testing.T) {
		store := newStore(t)
		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			tx.Create(ref, storage.Fields{})
			_, err := tx.Get(ctx, ref)
			return err
		})
		if !errors.Is(err, storage.ErrReadAfterWrite) {
			t.Fatalf("expected ErrReadAfterWrite, got %v", err)
		}
	})

	t.Run("staged update of missing document fails the commit", func(t *testing.T) {
		store := newStore(t)
		created := storage.Doc(storage.CollectionSettlements, "s1")
		err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			tx.Create(created, storage.Fields{})
			tx.Update(ref, storage.SetFields(storage.Fields{"status": "COMPLETED"}))
			return nil
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := store.Get(ctx, created); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("partial commit: %v", err)
		}
	})
}

func TestSQLiteStore_BulkWriter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	bob := storage.Doc(storage.CollectionUsers, "bob")
	t1 := storage.Doc(storage.CollectionTransactions, "t1")
	broken := storage.Doc(storage.CollectionUsers, "broken")
	for ref, fields := range map[storage.Ref]storage.Fields{
		bob:    {"partnerUids": []string{"alice", "carol"}},
		t1:     {"senderUid": "alice"},
		broken: {"partnerUids": "not-an-array"},
	} {
		if err := store.Create(ctx, ref, fields); err != nil {
			t.Fatalf("Create %s failed: %v", ref, err)
		}
	}

	t.Run("applies independent writes and skips missing updates", func(t *testing.T) {
		w := store.BulkWriter()
		w.Update(bob, storage.RemoveFromArray("partnerUids", "alice"))
		w.Update(storage.Doc(storage.CollectionUsers, "gone"), storage.RemoveFromArray("partnerUids", "alice"))
		w.Delete(t1)
		w.Delete(storage.Doc(storage.CollectionTransactions, "never-existed"))
		w.Set(storage.Doc(storage.CollectionSettlements, "s1"), storage.Fields{"payerUid": "bob"})
		if err := w.Close(ctx); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		doc, err := store.Get(ctx, bob)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got := mustStrings(t, doc.Fields["partnerUids"]); !slices.Equal(got, []string{"carol"}) {
			t.Errorf("partnerUids = %v, want [carol]", got)
		}
		if _, err := store.Get(ctx, t1); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("t1 not deleted: %v", err)
		}
		if _, err := store.Get(ctx, storage.Doc(storage.CollectionUsers, "gone")); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("skipped update created a document: %v", err)
		}
	})

	t.Run("reports failed writes without stopping the others", func(t *testing.T) {
		s2 := storage.Doc(storage.CollectionSettlements, "s2")
		w := store.BulkWriter()
		w.Update(broken, storage.RemoveFromArray("partnerUids", "alice"))
		w.Set(s2, storage.Fields{"payerUid": "carol"})
		err := w.Close(ctx)
		if err == nil {
			t.Fatal("expected an error for the malformed array")
		}
		if _, err := store.Get(ctx, s2); err != nil {
			t.Errorf("independent write was not applied: %v", err)
		}
	})

	t.Run("empty close", func(t *testing.T) {
		if err := store.BulkWriter().Close(ctx); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	})
}

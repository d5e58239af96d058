package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmynk/duoledger/internal/storage"
)

const (
	bulkConcurrency = 8
	bulkMaxAttempts = 3
	bulkBackoff     = 50 * time.Millisecond
)

// BulkWriter returns a writer that applies each queued write independently.
func (s *SQLiteStore) BulkWriter() storage.BulkWriter {
	return &bulkWriter{store: s}
}

// bulkWriter queues writes until Close. It is not safe for concurrent use.
type bulkWriter struct {
	store *SQLiteStore
	ops   []op
}

func (w *bulkWriter) Set(ref storage.Ref, fields storage.Fields) {
	w.ops = append(w.ops, op{kind: opSet, ref: ref, fields: fields})
}

func (w *bulkWriter) Update(ref storage.Ref, u storage.Update) {
	w.ops = append(w.ops, op{kind: opUpdate, ref: ref, update: u, skipMissing: true})
}

func (w *bulkWriter) Delete(ref storage.Ref) {
	w.ops = append(w.ops, op{kind: opDelete, ref: ref})
}

// Close applies all queued writes, unordered, and waits for every one of them.
func (w *bulkWriter) Close(ctx context.Context) error {
	ops := w.ops
	w.ops = nil

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(bulkConcurrency)
	for _, o := range ops {
		g.Go(func() error {
			if err := w.store.applyWithRetry(ctx, o); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s %s: %w", o.kind, o.ref, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (s *SQLiteStore) applyWithRetry(ctx context.Context, o op) error {
	var err error
	for attempt := 1; attempt <= bulkMaxAttempts; attempt++ {
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			return apply(ctx, tx, o)
		})
		if !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bulkBackoff * time.Duration(attempt)):
		}
	}
	return err
}

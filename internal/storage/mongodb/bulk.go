package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/duoledger/internal/storage"
)

const bulkConcurrency = 8

// BulkWriter returns a writer that sends one unordered BulkWrite per collection.
// Retryable writes are retried by the driver.
func (s *Store) BulkWriter() storage.BulkWriter {
	return &bulkWriter{store: s}
}

// bulkWriter queues writes until Close. It is not safe for concurrent use.
type bulkWriter struct {
	store *Store
	ops   []op
}

func (w *bulkWriter) Set(ref storage.Ref, fields storage.Fields) {
	w.ops = append(w.ops, op{kind: opSet, ref: ref, fields: fields})
}

func (w *bulkWriter) Update(ref storage.Ref, u storage.Update) {
	w.ops = append(w.ops, op{kind: opUpdate, ref: ref, update: u})
}

func (w *bulkWriter) Delete(ref storage.Ref) {
	w.ops = append(w.ops, op{kind: opDelete, ref: ref})
}

// batch is the write models of one collection and the op behind each model.
type batch struct {
	models []mongo.WriteModel
	ops    []op
	// ordered is set when one op expands to several models that must run in sequence.
	ordered bool
}

// Close applies all queued writes and waits for every collection's batch.
// Updates of missing documents match nothing and are skipped.
func (w *bulkWriter) Close(ctx context.Context) error {
	ops := w.ops
	w.ops = nil

	batches := make(map[string]*batch)
	for _, o := range ops {
		b, ok := batches[o.ref.Collection]
		if !ok {
			b = &batch{}
			batches[o.ref.Collection] = b
		}
		switch o.kind {
		case opSet:
			b.add(o, mongo.NewUpdateOneModel().
				SetFilter(byID(o.ref)).
				SetUpdate(setPipeline(o.ref, o.fields)).
				SetUpsert(true))
		case opUpdate:
			docs := updateDocs(o.update)
			if len(docs) > 1 {
				b.ordered = true
			}
			for _, doc := range docs {
				b.add(o, mongo.NewUpdateOneModel().SetFilter(byID(o.ref)).SetUpdate(doc))
			}
		case opDelete:
			b.add(o, mongo.NewDeleteOneModel().SetFilter(byID(o.ref)))
		}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(bulkConcurrency)
	for collection, b := range batches {
		g.Go(func() error {
			if err := w.store.writeBatch(ctx, collection, b); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (b *batch) add(o op, m mongo.WriteModel) {
	b.models = append(b.models, m)
	b.ops = append(b.ops, o)
}

func (s *Store) writeBatch(ctx context.Context, collection string, b *batch) error {
	_, err := s.db.Collection(collection).BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(b.ordered))
	if err == nil {
		return nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return fmt.Errorf("bulk write on %s: %w", collection, err)
	}
	errs := make([]error, 0, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		if we.Index < 0 || we.Index >= len(b.ops) {
			errs = append(errs, fmt.Errorf("bulk write on %s: %w", collection, we))
			continue
		}
		o := b.ops[we.Index]
		errs = append(errs, fmt.Errorf("%s %s: %w", o.kind, o.ref, we))
	}
	return errors.Join(errs...)
}

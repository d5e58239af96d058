// Package storage provides abstractions for persistent data storage.
//
// The ledger keeps every entity as a document in a named collection. Backends
// (SQLite, MongoDB) implement the Store interface below; the service layer and
// the core engines never talk to a database driver directly.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Collection names.
const (
	CollectionUsers              = "users"
	CollectionTransactions       = "transactions"
	CollectionSettlements        = "settlements"
	CollectionSettlementRequests = "settlementRequests"
	CollectionPartnerRequests    = "partnerRequests"
	CollectionIdentities         = "identities"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by Create when the document is already present.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrConflict is returned by RunTransaction when a document read by the
	// transaction was modified by another writer before commit. The whole
	// transaction function must be run again.
	ErrConflict = errors.New("transaction conflict")

	// ErrReadAfterWrite is returned when a transaction reads after it has
	// already staged a write.
	ErrReadAfterWrite = errors.New("transaction reads must happen before writes")
)

// Ref identifies a single document.
type Ref struct {
	Collection string
	ID         string
}

// Doc is shorthand for building a Ref.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Path returns the unique "collection/id" path of the document.
func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

func (r Ref) String() string {
	return r.Path()
}

// Fields is the decoded body of a document.
//
// Numbers may surface as json.Number, int32, int64 or float64 depending on the
// backend; callers should go through the models package decoders rather than
// asserting types themselves.
type Fields map[string]any

// Document is a document read from the store.
type Document struct {
	Ref    Ref
	Fields Fields
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection whose fields equal every filter.
// A zero Limit means no limit.
type Query struct {
	Collection string
	Where      []Filter
	Limit      int
}

// Where builds a single-predicate query.
func Where(collection, field string, value any) Query {
	return Query{Collection: collection, Where: []Filter{{Field: field, Value: value}}}
}

// And adds another equality predicate.
func (q Query) And(field string, value any) Query {
	q.Where = append(append([]Filter(nil), q.Where...), Filter{Field: field, Value: value})
	return q
}

// WithLimit caps the number of returned documents.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that the query only names plain top-level fields.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query: collection required")
	}
	for _, f := range q.Where {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("query: invalid field name %q", f.Field)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("query: negative limit %d", q.Limit)
	}
	return nil
}

// Update is a partial mutation of an existing document.
// ArrayUnion and ArrayRemove treat the named array field as a set of strings:
// union appends values not yet present, remove drops every occurrence by value.
type Update struct {
	Set         Fields
	ArrayUnion  map[string][]string
	ArrayRemove map[string][]string
}

// SetFields is shorthand for an Update that only sets fields.
func SetFields(fields Fields) Update {
	return Update{Set: fields}
}

// RemoveFromArray is shorthand for an Update that removes values from one array field.
func RemoveFromArray(field string, values ...string) Update {
	return Update{ArrayRemove: map[string][]string{field: values}}
}

// AddToArray is shorthand for an Update that adds values to one array field.
func AddToArray(field string, values ...string) Update {
	return Update{ArrayUnion: map[string][]string{field: values}}
}

// Reader performs point reads and equality queries.
type Reader interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, ref Ref) (*Document, error)

	// Query returns the matching documents ordered by ID.
	Query(ctx context.Context, q Query) ([]*Document, error)
}

// Tx is a multi-document transaction. Reads are tracked; writes are staged
// and applied atomically at commit. All reads must happen before the first write.
type Tx interface {
	Reader

	// Create stages a new document; the commit fails with ErrAlreadyExists if present.
	Create(ref Ref, fields Fields)
	// Set stages a full overwrite (or creation) of a document.
	Set(ref Ref, fields Fields)
	// Update stages a partial update; the commit fails with ErrNotFound if absent.
	Update(ref Ref, u Update)
	// Delete stages a deletion. Deleting an absent document is a no-op.
	Delete(ref Ref)
}

// TxFunc is the body of a transaction. Returning an error rolls back every
// staged write.
type TxFunc func(ctx context.Context, tx Tx) error

// BulkWriter collects independent writes and applies them unordered.
// Individual writes are retried on transient failures; an Update of a
// document that no longer exists is skipped. Nothing is atomic across writes.
type BulkWriter interface {
	Set(ref Ref, fields Fields)
	Update(ref Ref, u Update)
	Delete(ref Ref)

	// Close applies every queued write, waits for all of them and returns the
	// aggregated error of the writes that failed.
	Close(ctx context.Context) error
}

// Store defines the document store used by the ledger.
// This abstraction allows swapping storage backends (SQLite, MongoDB)
// without changing the service layer.
type Store interface {
	Reader

	// Create persists a new document or returns ErrAlreadyExists.
	Create(ctx context.Context, ref Ref, fields Fields) error

	// Set creates or overwrites a document.
	Set(ctx context.Context, ref Ref, fields Fields) error

	// Update applies a partial update or returns ErrNotFound.
	Update(ctx context.Context, ref Ref, u Update) error

	// Delete removes a document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, ref Ref) error

	// RunTransaction runs fn once and commits its staged writes atomically.
	// It returns ErrConflict when the commit lost an optimistic race; it does
	// not retry on its own.
	RunTransaction(ctx context.Context, fn TxFunc) error

	// BulkWriter returns a new unordered bulk writer.
	BulkWriter() BulkWriter

	// Close releases any resources held by the store.
	Close() error
}

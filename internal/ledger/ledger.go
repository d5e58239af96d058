// Package ledger implements the two-party expense ledger: expenses, partner
// links, settlement requests and the settlement confirmation engine.
//
// Every state change that depends on a read runs inside a store transaction.
// Transactions that lose an optimistic race are retried by an explicit,
// bounded loop (see runTx); when the attempts run out the caller gets an
// Aborted error and nothing has been written.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mmynk/duoledger/internal/apperr"
	"github.com/mmynk/duoledger/internal/metrics"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// Default retry policy for conflicting transactions.
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 20 * time.Millisecond
)

// Events receives committed state changes, typically to send push
// notifications. Implementations must not block for long and must swallow
// their own failures.
type Events interface {
	TransactionCreated(ctx context.Context, t *models.Transaction)
	TransactionDeleted(ctx context.Context, t *models.Transaction)
	SettlementRequested(ctx context.Context, r *models.SettlementRequest)
	SettlementRejected(ctx context.Context, r *models.SettlementRequest)
	SettlementCompleted(ctx context.Context, s *models.Settlement)
	PartnerRequested(ctx context.Context, p *models.PartnerRequest)
}

type nopEvents struct{}

func (nopEvents) TransactionCreated(context.Context, *models.Transaction) {}
func (nopEvents) TransactionDeleted(context.Context, *models.Transaction) {}
func (nopEvents) SettlementRequested(context.Context, *models.SettlementRequest) {}
func (nopEvents) SettlementRejected(context.Context, *models.SettlementRequest) {}
func (nopEvents) SettlementCompleted(context.Context, *models.Settlement) {}
func (nopEvents) PartnerRequested(context.Context, *models.PartnerRequest) {}

// Ledger runs the ledger operations against a document store.
type Ledger struct {
	store       storage.Store
	events      Events
	metrics     *metrics.Metrics
	now         func() time.Time
	newID       func() string
	maxAttempts int
	baseBackoff time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEvents sets the receiver of committed state changes.
func WithEvents(e Events) Option {
	return func(l *Ledger) { l.events = e }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides the document ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithRetry sets how many times a conflicting transaction is attempted and
// the backoff before the second attempt; the backoff doubles afterwards.
func WithRetry(maxAttempts int, baseBackoff time.Duration) Option {
	return func(l *Ledger) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if baseBackoff >= 0 {
			l.baseBackoff = baseBackoff
		}
	}
}

// New creates a Ledger backed by store.
func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		events:      nopEvents{},
		now:         time.Now,
		newID:       models.NewID,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// runTx runs fn in a store transaction, retrying it from scratch when the
// commit reports a conflict. fn must not keep state across attempts.
func (l *Ledger) runTx(ctx context.Context, operation string, fn storage.TxFunc) error {
	backoff := l.baseBackoff
	for attempt := 1; ; attempt++ {
		err := l.store.RunTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return classify(err)
		}

		l.metrics.ObserveConflict(operation)
		slog.Warn("Transaction conflict", "operation", operation, "attempt", attempt, "error", err)
		if attempt >= l.maxAttempts {
			return apperr.Wrap(apperr.Aborted, err, "too much contention, try again")
		}

		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Aborted, ctx.Err(), "cancelled while retrying")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// classify maps store failures that escaped the operation onto error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidDocument):
		return apperr.Wrap(apperr.Internal, err, "stored data failed validation")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.Aborted, err, "request cancelled")
	default:
		return apperr.Wrap(apperr.Internal, err, "storage failure")
	}
}

func requireCaller(callerUID string) error {
	if callerUID == "" {
		return apperr.New(apperr.Unauthenticated, "authentication required")
	}
	return nil
}

// loadUser reads a user profile through r, which may be a transaction.
func loadUser(ctx context.Context, r storage.Reader, uid string) (*models.User, error) {
	doc, err := r.Get(ctx, models.UserRef(uid))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "user %s not found", uid)
	}
	if err != nil {
		return nil, err
	}
	return models.UserFromDoc(doc)
}

// requirePartners checks that callerUID is linked with otherUID.
func requirePartners(ctx context.Context, r storage.Reader, callerUID, otherUID string) error {
	if otherUID == "" {
		return apperr.New(apperr.InvalidArgument, "counterparty is required")
	}
	if otherUID == callerUID {
		return apperr.New(apperr.InvalidArgument, "counterparty must be another user")
	}
	caller, err := loadUser(ctx, r, callerUID)
	if err != nil {
		return err
	}
	if !caller.HasPartner(otherUID) {
		return apperr.New(apperr.PermissionDenied, "user %s is not your partner", otherUID)
	}
	return nil
}

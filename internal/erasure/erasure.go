// Package erasure deletes every trace of an account: the user's profile, all
// expenses, settlements and requests that name the user, and finally the
// login identity.
//
// Data goes first and the identity last. A failed cleanup leaves the identity
// in place so the owner can sign in and retry; every step is idempotent.
package erasure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmynk/duoledger/internal/apperr"
	"github.com/mmynk/duoledger/internal/metrics"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// IdentityProvider removes login identities.
type IdentityProvider interface {
	// DeleteIdentity removes the identity of uid. Removing an identity that
	// does not exist succeeds.
	DeleteIdentity(ctx context.Context, uid string) error
}

// reference is one predicate whose matches must be deleted.
type reference struct {
	collection string
	field      string
}

// references lists every field that can point at a user.
var references = []reference{
	{storage.CollectionTransactions, models.FieldSenderUID},
	{storage.CollectionTransactions, models.FieldReceiverUID},
	{storage.CollectionSettlements, models.FieldPayerUID},
	{storage.CollectionSettlements, models.FieldReceiverUID},
	{storage.CollectionPartnerRequests, models.FieldFromUID},
	{storage.CollectionPartnerRequests, models.FieldToUID},
	{storage.CollectionSettlementRequests, models.FieldSenderUID},
	{storage.CollectionSettlementRequests, models.FieldReceiverUID},
}

// Engine erases accounts.
type Engine struct {
	store      storage.Store
	identities IdentityProvider
	metrics    *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine.
func New(store storage.Store, identities IdentityProvider, opts ...Option) *Engine {
	e := &Engine{store: store, identities: identities}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan is the set of writes that erase one account.
type Plan struct {
	UID string

	// Unlink are partners whose partnerUids lose UID.
	Unlink []string

	// Delete are the documents to remove, without duplicates and sorted by path.
	// The user's own profile is the last entry and is removed after the rest.
	Delete []storage.Ref
}

// EraseAccount removes all data of callerUID and then its identity.
// Erasing an account that is already gone succeeds.
func (e *Engine) EraseAccount(ctx context.Context, callerUID string) error {
	defer e.metrics.Since("erase_account", time.Now())

	if callerUID == "" {
		return apperr.New(apperr.Unauthenticated, "authentication required")
	}

	plan, err := e.Plan(ctx, callerUID)
	if err != nil {
		e.metrics.ObserveErasure(err, 0)
		return apperr.Wrap(apperr.Internal, err, "failed to collect account data")
	}

	if err := e.apply(ctx, plan); err != nil {
		e.metrics.ObserveErasure(err, 0)
		slog.Error("Account data cleanup failed, identity kept", "uid", callerUID, "error", err)
		return apperr.Wrap(apperr.Internal, err, "failed to delete account data")
	}

	if err := e.identities.DeleteIdentity(ctx, callerUID); err != nil {
		e.metrics.ObserveErasure(err, len(plan.Delete))
		slog.Error("Identity deletion failed", "uid", callerUID, "error", err)
		return apperr.Wrap(apperr.Internal, err, "failed to delete identity")
	}

	e.metrics.ObserveErasure(nil, len(plan.Delete))
	slog.Info("Account erased",
		"uid", callerUID,
		"documents", len(plan.Delete),
		"partners_unlinked", len(plan.Unlink),
	)
	return nil
}

// Plan collects what erasing uid has to write, without writing anything.
func (e *Engine) Plan(ctx context.Context, uid string) (*Plan, error) {
	plan := &Plan{UID: uid}

	doc, err := e.store.Get(ctx, models.UserRef(uid))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// The profile is deleted last, so its partners are already unlinked.
	case err != nil:
		return nil, fmt.Errorf("failed to read user %s: %w", uid, err)
	default:
		partners, err := storage.StringSlice(doc.Fields[models.FieldPartnerUIDs])
		if err != nil {
			return nil, fmt.Errorf("user %s: %w: %v", uid, models.ErrInvalidDocument, err)
		}
		for _, p := range partners {
			if p != "" && p != uid {
				plan.Unlink = append(plan.Unlink, p)
			}
		}
	}

	refs, err := e.referencing(ctx, uid)
	if err != nil {
		return nil, err
	}
	plan.Delete = append(refs, models.UserRef(uid))
	return plan, nil
}

// referencing runs every reference query concurrently and returns the union
// of the matches keyed by document path.
func (e *Engine) referencing(ctx context.Context, uid string) ([]storage.Ref, error) {
	var (
		mu   sync.Mutex
		refs = make(map[string]storage.Ref)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range references {
		g.Go(func() error {
			docs, err := e.store.Query(gctx, storage.Where(r.collection, r.field, uid))
			if err != nil {
				return fmt.Errorf("failed to query %s by %s: %w", r.collection, r.field, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, doc := range docs {
				refs[doc.Ref.Path()] = doc.Ref
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]storage.Ref, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}

// apply writes the plan in two unordered bulk rounds. The first unlinks the
// partners and deletes every referencing document; the user's own profile is
// deleted in the second round, only after the first fully succeeded. The
// profile is the only record of who the partners are, so it must outlive a
// failed unlink for a retry to find them.
func (e *Engine) apply(ctx context.Context, plan *Plan) error {
	profile := models.UserRef(plan.UID)

	w := e.store.BulkWriter()
	for _, partner := range plan.Unlink {
		w.Update(models.UserRef(partner), storage.RemoveFromArray(models.FieldPartnerUIDs, plan.UID))
	}
	for _, ref := range plan.Delete {
		if ref != profile {
			w.Delete(ref)
		}
	}
	if err := w.Close(ctx); err != nil {
		return err
	}

	w = e.store.BulkWriter()
	w.Delete(profile)
	return w.Close(ctx)
}

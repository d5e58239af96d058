package ledger

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/apperr"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// NewSettlementRequest is the input of CreateSettlementRequest.
type NewSettlementRequest struct {
	// ReceiverUID is the partner who must confirm receiving the payment.
	ReceiverUID string
	Amount      decimal.Decimal
	Currency    string

	// TransactionID limits the request to one transaction. Empty settles
	// everything outstanding between the pair.
	TransactionID string
}

// CreateSettlementRequest records that the caller paid a partner and asks the
// partner to confirm.
func (l *Ledger) CreateSettlementRequest(ctx context.Context, callerUID string, in NewSettlementRequest) (*models.SettlementRequest, error) {
	if err := requireCaller(callerUID); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.New(apperr.InvalidArgument, "amount must be positive")
	}

	req := &models.SettlementRequest{
		ID:            l.newID(),
		SenderUID:     callerUID,
		ReceiverUID:   in.ReceiverUID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		TransactionID: in.TransactionID,
		Status:        models.StatusPending,
		CreatedAt:     l.now(),
	}
	if req.Currency == "" {
		req.Currency = models.DefaultCurrency
	}

	err := l.runTx(ctx, "create_settlement_request", func(ctx context.Context, tx storage.Tx) error {
		if err := requirePartners(ctx, tx, callerUID, in.ReceiverUID); err != nil {
			return err
		}
		if !req.IsAggregate() {
			if err := checkSettleable(ctx, tx, req); err != nil {
				return err
			}
		}
		tx.Create(req.Ref(), req.Fields())
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Settlement request created",
		"request_id", req.ID,
		"sender", req.SenderUID,
		"receiver", req.ReceiverUID,
		"aggregate", req.IsAggregate(),
	)
	l.events.SettlementRequested(ctx, req)
	return req, nil
}

// checkSettleable verifies that the single transaction a request names is
// open and belongs to the pair.
func checkSettleable(ctx context.Context, tx storage.Tx, req *models.SettlementRequest) error {
	doc, err := tx.Get(ctx, models.TransactionRef(req.TransactionID))
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(apperr.NotFound, "transaction %s not found", req.TransactionID)
	}
	if err != nil {
		return err
	}
	t, err := models.TransactionFromDoc(doc)
	if err != nil {
		return err
	}
	switch {
	case !t.Between(req.SenderUID, req.ReceiverUID):
		return apperr.New(apperr.PermissionDenied, "transaction %s is not between you and %s", t.ID, req.ReceiverUID)
	case t.IsSettled:
		return apperr.New(apperr.FailedPrecondition, "transaction %s is already settled", t.ID)
	case t.IsDeleted:
		return apperr.New(apperr.FailedPrecondition, "transaction %s was deleted", t.ID)
	}
	return nil
}

// ListSettlements returns the settlements the caller paid or received, newest first.
func (l *Ledger) ListSettlements(ctx context.Context, callerUID string) ([]*models.Settlement, error) {
	if err := requireCaller(callerUID); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var settlements []*models.Settlement
	for _, field := range []string{models.FieldPayerUID, models.FieldReceiverUID} {
		docs, err := l.store.Query(ctx, storage.Where(storage.CollectionSettlements, field, callerUID))
		if err != nil {
			return nil, classify(err)
		}
		for _, doc := range docs {
			if seen[doc.Ref.ID] {
				continue
			}
			seen[doc.Ref.ID] = true
			s, err := models.SettlementFromDoc(doc)
			if err != nil {
				return nil, classify(err)
			}
			settlements = append(settlements, s)
		}
	}

	slices.SortFunc(settlements, func(a, b *models.Settlement) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return settlements, nil
}

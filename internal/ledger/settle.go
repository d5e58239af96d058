package ledger

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/mmynk/duoledger/internal/apperr"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// Confirm answers a pending settlement request on behalf of its receiver.
//
// Rejecting moves the request to REJECTED. Accepting creates the Settlement,
// moves the request to COMPLETED and marks every covered transaction settled,
// all in one store transaction; either everything is written or nothing is.
// The request is re-read and re-checked inside that transaction, so a
// concurrent answer to the same request makes this call fail with
// FailedPrecondition (or Aborted if contention never clears).
func (l *Ledger) Confirm(ctx context.Context, callerUID, requestID string, accept bool) (models.RequestStatus, error) {
	defer l.metrics.Since("confirm_settlement", time.Now())

	status, settled, err := l.confirm(ctx, callerUID, requestID, accept)
	if err != nil {
		l.metrics.ObserveSettlement(apperr.KindOf(err).String(), 0)
		return "", err
	}
	l.metrics.ObserveSettlement(status.String(), settled)
	return status, nil
}

func (l *Ledger) confirm(ctx context.Context, callerUID, requestID string, accept bool) (models.RequestStatus, int, error) {
	if err := requireCaller(callerUID); err != nil {
		return "", 0, err
	}
	if requestID == "" {
		return "", 0, apperr.New(apperr.InvalidArgument, "requestId is required")
	}

	if !accept {
		req, err := l.reject(ctx, callerUID, requestID)
		if err != nil {
			return "", 0, err
		}
		slog.Info("Settlement request rejected", "request_id", requestID, "receiver", callerUID)
		l.events.SettlementRejected(ctx, req)
		return models.StatusRejected, 0, nil
	}

	settlement, err := l.settle(ctx, callerUID, requestID)
	if err != nil {
		return "", 0, err
	}
	slog.Info("Settlement completed",
		"request_id", requestID,
		"settlement_id", settlement.ID,
		"transactions", len(settlement.TransactionIDs),
		"total", settlement.TotalAmount.String(),
	)
	l.events.SettlementCompleted(ctx, settlement)
	return models.StatusCompleted, len(settlement.TransactionIDs), nil
}

// reject re-checks the request inside a transaction so it cannot overwrite
// a concurrent confirmation.
func (l *Ledger) reject(ctx context.Context, callerUID, requestID string) (*models.SettlementRequest, error) {
	var rejected *models.SettlementRequest
	err := l.runTx(ctx, "reject_settlement", func(ctx context.Context, tx storage.Tx) error {
		req, err := pendingRequestFor(ctx, tx, callerUID, requestID)
		if err != nil {
			return err
		}
		tx.Update(req.Ref(), models.StatusUpdate(models.StatusRejected))
		req.Status = models.StatusRejected
		rejected = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// settle runs the confirmation transaction.
func (l *Ledger) settle(ctx context.Context, callerUID, requestID string) (*models.Settlement, error) {
	var settlement *models.Settlement
	err := l.runTx(ctx, "confirm_settlement", func(ctx context.Context, tx storage.Tx) error {
		req, err := pendingRequestFor(ctx, tx, callerUID, requestID)
		if err != nil {
			return err
		}

		covered, err := settlementScope(ctx, tx, req)
		if err != nil {
			return err
		}

		// All reads are done; stage the writes.
		s := newSettlement(l.newID(), req, covered, l.now())
		tx.Create(s.Ref(), s.Fields())
		tx.Update(req.Ref(), models.StatusUpdate(models.StatusCompleted))
		for _, t := range covered {
			tx.Update(t.Ref(), storage.SetFields(storage.Fields{
				models.FieldIsSettled:    true,
				models.FieldSettlementID: s.ID,
			}))
		}
		settlement = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// pendingRequestFor loads a request and checks that callerUID may answer it.
func pendingRequestFor(ctx context.Context, tx storage.Tx, callerUID, requestID string) (*models.SettlementRequest, error) {
	doc, err := tx.Get(ctx, models.SettlementRequestRef(requestID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "settlement request %s not found", requestID)
	}
	if err != nil {
		return nil, err
	}
	req, err := models.SettlementRequestFromDoc(doc)
	if err != nil {
		return nil, err
	}
	if req.ReceiverUID != callerUID {
		return nil, apperr.New(apperr.PermissionDenied, "only the receiver can answer settlement request %s", requestID)
	}
	if req.Status != models.StatusPending {
		return nil, apperr.New(apperr.FailedPrecondition, "settlement request %s is already %s", requestID, req.Status)
	}
	return req, nil
}

// settlementScope returns the transactions a request covers, oldest first.
func settlementScope(ctx context.Context, tx storage.Tx, req *models.SettlementRequest) ([]*models.Transaction, error) {
	if !req.IsAggregate() {
		doc, err := tx.Get(ctx, models.TransactionRef(req.TransactionID))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "transaction %s not found", req.TransactionID)
		}
		if err != nil {
			return nil, err
		}
		t, err := models.TransactionFromDoc(doc)
		if err != nil {
			return nil, err
		}
		if t.IsSettled {
			return nil, apperr.New(apperr.FailedPrecondition, "transaction %s is already settled", t.ID)
		}
		if t.IsDeleted {
			return nil, apperr.New(apperr.FailedPrecondition, "transaction %s was deleted", t.ID)
		}
		return []*models.Transaction{t}, nil
	}

	return unsettledBetween(ctx, tx, req.SenderUID, req.ReceiverUID)
}

// unsettledBetween returns the live, unsettled transactions between a and b
// in either direction, oldest first.
func unsettledBetween(ctx context.Context, r storage.Reader, a, b string) ([]*models.Transaction, error) {
	seen := make(map[string]bool)
	var covered []*models.Transaction
	for _, q := range []storage.Query{
		storage.Where(storage.CollectionTransactions, models.FieldSenderUID, a).
			And(models.FieldReceiverUID, b),
		storage.Where(storage.CollectionTransactions, models.FieldSenderUID, b).
			And(models.FieldReceiverUID, a),
	} {
		docs, err := r.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if seen[doc.Ref.ID] {
				continue
			}
			seen[doc.Ref.ID] = true
			t, err := models.TransactionFromDoc(doc)
			if err != nil {
				return nil, err
			}
			if t.IsDeleted || t.IsSettled {
				continue
			}
			covered = append(covered, t)
		}
	}

	slices.SortFunc(covered, func(x, y *models.Transaction) int {
		if c := x.Timestamp.Compare(y.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return covered, nil
}

// newSettlement builds the settlement record for a confirmed request.
// StartDate is the oldest covered timestamp, or now when nothing is covered.
func newSettlement(id string, req *models.SettlementRequest, covered []*models.Transaction, now time.Time) *models.Settlement {
	startDate := now
	ids := make([]string, 0, len(covered))
	for i, t := range covered {
		ids = append(ids, t.ID)
		if i == 0 || t.Timestamp.Before(startDate) {
			startDate = t.Timestamp
		}
	}
	return &models.Settlement{
		ID:             id,
		StartDate:      startDate,
		EndDate:        now,
		TotalAmount:    req.Amount,
		PayerUID:       req.SenderUID,
		ReceiverUID:    req.ReceiverUID,
		TransactionIDs: ids,
		Timestamp:      now,
		SettledByUID:   req.ReceiverUID,
	}
}

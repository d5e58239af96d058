package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/apperr"
	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

// NewTransaction is the input of CreateTransaction.
type NewTransaction struct {
	// ReceiverUID is the partner who owes the amount.
	ReceiverUID string
	Amount      decimal.Decimal
	Currency    string
	Note        string
}

// CreateTransaction records an expense paid by the caller on behalf of a partner.
func (l *Ledger) CreateTransaction(ctx context.Context, callerUID string, in NewTransaction) (*models.Transaction, error) {
	if err := requireCaller(callerUID); err != nil {
		return nil, err
	}

	t := &models.Transaction{
		ID:          l.newID(),
		SenderUID:   callerUID,
		ReceiverUID: in.ReceiverUID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Note:        in.Note,
		AddedByUID:  callerUID,
		Timestamp:   l.now(),
	}
	if t.Currency == "" {
		t.Currency = models.DefaultCurrency
	}
	if err := t.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, err, "invalid transaction")
	}
	if err := requirePartners(ctx, l.store, callerUID, in.ReceiverUID); err != nil {
		return nil, classify(err)
	}

	if err := l.store.Create(ctx, t.Ref(), t.Fields()); err != nil {
		return nil, classify(err)
	}

	slog.Info("Transaction created", "transaction_id", t.ID, "sender", t.SenderUID, "receiver", t.ReceiverUID)
	l.events.TransactionCreated(ctx, t)
	return t, nil
}

// DeleteTransaction soft-deletes an expense. Either party may delete it as
// long as it has not been settled.
func (l *Ledger) DeleteTransaction(ctx context.Context, callerUID, transactionID string) (*models.Transaction, error) {
	if err := requireCaller(callerUID); err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "transactionId is required")
	}

	var deleted *models.Transaction
	err := l.runTx(ctx, "delete_transaction", func(ctx context.Context, tx storage.Tx) error {
		doc, err := tx.Get(ctx, models.TransactionRef(transactionID))
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.NotFound, "transaction %s not found", transactionID)
		}
		if err != nil {
			return err
		}
		t, err := models.TransactionFromDoc(doc)
		if err != nil {
			return err
		}
		switch {
		case !t.Involves(callerUID):
			return apperr.New(apperr.PermissionDenied, "transaction %s is not yours", transactionID)
		case t.IsSettled:
			return apperr.New(apperr.FailedPrecondition, "transaction %s is settled and cannot be deleted", transactionID)
		case t.IsDeleted:
			return apperr.New(apperr.FailedPrecondition, "transaction %s is already deleted", transactionID)
		}

		tx.Update(t.Ref(), storage.SetFields(storage.Fields{
			models.FieldIsDeleted: true,
			models.FieldDeletedBy: callerUID,
		}))
		t.IsDeleted = true
		t.DeletedBy = callerUID
		deleted = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Transaction deleted", "transaction_id", transactionID, "deleted_by", callerUID)
	l.events.TransactionDeleted(ctx, deleted)
	return deleted, nil
}

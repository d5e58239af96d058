package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/storage"
)

// DefaultCurrency is used when an expense is recorded without a currency.
const DefaultCurrency = "₺"

// Transaction is a single expense between two partners: ReceiverUID owes
// SenderUID the Amount.
//
// Once IsSettled is true the record is immutable; only account erasure may
// remove it.
type Transaction struct {
	ID          string
	SenderUID   string
	ReceiverUID string
	Amount      decimal.Decimal
	Currency    string
	Note        string
	AddedByUID  string
	Timestamp   time.Time

	// IsDeleted is the soft-delete flag; DeletedBy names who set it.
	IsDeleted bool
	DeletedBy string

	// IsSettled is set by the settlement engine together with SettlementID.
	IsSettled    bool
	SettlementID string
}

// TransactionRef returns the document reference of a transaction.
func TransactionRef(id string) storage.Ref {
	return storage.Doc(storage.CollectionTransactions, id)
}

// Ref returns the document reference of the transaction.
func (t *Transaction) Ref() storage.Ref {
	return TransactionRef(t.ID)
}

// Involves reports whether uid is the sender or the receiver.
func (t *Transaction) Involves(uid string) bool {
	return t.SenderUID == uid || t.ReceiverUID == uid
}

// Between reports whether the transaction is between a and b, in either direction.
func (t *Transaction) Between(a, b string) bool {
	return (t.SenderUID == a && t.ReceiverUID == b) || (t.SenderUID == b && t.ReceiverUID == a)
}

// Validate checks the fields a new transaction must carry.
func (t *Transaction) Validate() error {
	switch {
	case t.SenderUID == "" || t.ReceiverUID == "":
		return errors.New("sender and receiver are required")
	case t.SenderUID == t.ReceiverUID:
		return errors.New("sender and receiver must differ")
	case !t.Amount.IsPositive():
		return errors.New("amount must be positive")
	case t.Currency == "":
		return errors.New("currency is required")
	}
	return nil
}

// Fields encodes the transaction as a document body.
func (t *Transaction) Fields() storage.Fields {
	return storage.Fields{
		FieldSenderUID:    t.SenderUID,
		FieldReceiverUID:  t.ReceiverUID,
		FieldAmount:       t.Amount.String(),
		FieldCurrency:     t.Currency,
		FieldNote:         t.Note,
		FieldAddedByUID:   t.AddedByUID,
		FieldTimestamp:    t.Timestamp.UnixMilli(),
		FieldIsDeleted:    t.IsDeleted,
		FieldDeletedBy:    optional(t.DeletedBy),
		FieldIsSettled:    t.IsSettled,
		FieldSettlementID: optional(t.SettlementID),
	}
}

// TransactionFromDoc decodes and validates a transaction document.
func TransactionFromDoc(doc *storage.Document) (*Transaction, error) {
	r := newFieldReader(doc)
	t := &Transaction{
		ID:           doc.Ref.ID,
		SenderUID:    r.str(FieldSenderUID),
		ReceiverUID:  r.str(FieldReceiverUID),
		Amount:       r.amount(FieldAmount),
		Currency:     r.str(FieldCurrency),
		Note:         r.optStr(FieldNote),
		AddedByUID:   r.str(FieldAddedByUID),
		Timestamp:    r.millis(FieldTimestamp),
		IsDeleted:    r.optBool(FieldIsDeleted),
		DeletedBy:    r.optStr(FieldDeletedBy),
		IsSettled:    r.optBool(FieldIsSettled),
		SettlementID: r.optStr(FieldSettlementID),
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return t, nil
}

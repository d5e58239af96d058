package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/storage"
)

// Settlement is the immutable record that zeroes out a set of previously
// unsettled transactions between two partners. Exactly one is created per
// confirmed SettlementRequest.
type Settlement struct {
	// ID is the unique identifier for the settlement (UUID format).
	ID string

	// StartDate is the earliest timestamp among the covered transactions.
	StartDate time.Time

	// EndDate is when the settlement was confirmed.
	EndDate time.Time

	// TotalAmount is the settled amount.
	TotalAmount decimal.Decimal

	// PayerUID is the user who paid (the requester).
	PayerUID string

	// ReceiverUID is the user who received the payment and confirmed it.
	ReceiverUID string

	// TransactionIDs are the transactions this settlement covers.
	TransactionIDs []string

	// Timestamp is when the record was written.
	Timestamp time.Time

	// SettledByUID is the user who confirmed; always the receiver.
	SettledByUID string
}

// SettlementRef returns the document reference of a settlement.
func SettlementRef(id string) storage.Ref {
	return storage.Doc(storage.CollectionSettlements, id)
}

// Ref returns the document reference of the settlement.
func (s *Settlement) Ref() storage.Ref {
	return SettlementRef(s.ID)
}

// Fields encodes the settlement as a document body.
func (s *Settlement) Fields() storage.Fields {
	ids := s.TransactionIDs
	if ids == nil {
		ids = []string{}
	}
	return storage.Fields{
		FieldStartDate:      s.StartDate.UnixMilli(),
		FieldEndDate:        s.EndDate.UnixMilli(),
		FieldTotalAmount:    s.TotalAmount.String(),
		FieldPayerUID:       s.PayerUID,
		FieldReceiverUID:    s.ReceiverUID,
		FieldTransactionIDs: ids,
		FieldTimestamp:      s.Timestamp.UnixMilli(),
		FieldSettledByUID:   s.SettledByUID,
	}
}

// SettlementFromDoc decodes and validates a settlement document.
func SettlementFromDoc(doc *storage.Document) (*Settlement, error) {
	r := newFieldReader(doc)
	s := &Settlement{
		ID:             doc.Ref.ID,
		StartDate:      r.millis(FieldStartDate),
		EndDate:        r.millis(FieldEndDate),
		TotalAmount:    r.amount(FieldTotalAmount),
		PayerUID:       r.str(FieldPayerUID),
		ReceiverUID:    r.str(FieldReceiverUID),
		TransactionIDs: r.strings(FieldTransactionIDs),
		Timestamp:      r.millis(FieldTimestamp),
		SettledByUID:   r.str(FieldSettledByUID),
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return s, nil
}

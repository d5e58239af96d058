package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/storage"
)

// RequestStatus is the state of a settlement or partner request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusCompleted RequestStatus = "COMPLETED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusAccepted  RequestStatus = "ACCEPTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool {
	return s != StatusPending
}

// SettlementRequest asks ReceiverUID to confirm that SenderUID paid Amount.
//
// With a TransactionID it settles that single transaction; without one it
// settles every unsettled transaction between the two partners.
// Status only moves PENDING -> COMPLETED or PENDING -> REJECTED.
type SettlementRequest struct {
	ID            string
	SenderUID     string
	ReceiverUID   string
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
	Status        RequestStatus
	CreatedAt     time.Time
}

// SettlementRequestRef returns the document reference of a settlement request.
func SettlementRequestRef(id string) storage.Ref {
	return storage.Doc(storage.CollectionSettlementRequests, id)
}

// Ref returns the document reference of the request.
func (r *SettlementRequest) Ref() storage.Ref {
	return SettlementRequestRef(r.ID)
}

// IsAggregate reports whether the request settles everything between the pair.
func (r *SettlementRequest) IsAggregate() bool {
	return r.TransactionID == ""
}

// Fields encodes the request as a document body.
func (r *SettlementRequest) Fields() storage.Fields {
	return storage.Fields{
		FieldSenderUID:     r.SenderUID,
		FieldReceiverUID:   r.ReceiverUID,
		FieldAmount:        r.Amount.String(),
		FieldCurrency:      r.Currency,
		FieldTransactionID: optional(r.TransactionID),
		FieldStatus:        string(r.Status),
		FieldCreatedAt:     r.CreatedAt.UnixMilli(),
	}
}

// SettlementRequestFromDoc decodes and validates a settlement request document.
func SettlementRequestFromDoc(doc *storage.Document) (*SettlementRequest, error) {
	r := newFieldReader(doc)
	req := &SettlementRequest{
		ID:            doc.Ref.ID,
		SenderUID:     r.str(FieldSenderUID),
		ReceiverUID:   r.str(FieldReceiverUID),
		Amount:        r.amount(FieldAmount),
		Currency:      r.str(FieldCurrency),
		TransactionID: r.optStr(FieldTransactionID),
		Status:        RequestStatus(r.str(FieldStatus)),
		CreatedAt:     r.millis(FieldCreatedAt),
	}
	switch req.Status {
	case StatusPending, StatusCompleted, StatusRejected, "":
	default:
		r.fail(FieldStatus, "unknown status %q", req.Status)
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return req, nil
}

// StatusUpdate returns the update moving a request to status.
func StatusUpdate(status RequestStatus) storage.Update {
	return storage.SetFields(storage.Fields{FieldStatus: string(status)})
}

func (s RequestStatus) String() string {
	return string(s)
}

// ParseAmount parses a client-supplied positive amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", d)
	}
	return d, nil
}

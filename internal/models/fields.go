package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/storage"
)

// ErrInvalidDocument marks a stored document that fails validation.
var ErrInvalidDocument = errors.New("invalid document")

// Document field names shared by queries and encoders.
const (
	FieldDisplayName    = "displayName"
	FieldEmail          = "email"
	FieldFCMToken       = "fcmToken"
	FieldPartnerID      = "partnerId"
	FieldPartnerUIDs    = "partnerUids"
	FieldSenderUID      = "senderUid"
	FieldReceiverUID    = "receiverUid"
	FieldAmount         = "amount"
	FieldCurrency       = "currency"
	FieldNote           = "note"
	FieldAddedByUID     = "addedByUid"
	FieldTimestamp      = "timestamp"
	FieldIsDeleted      = "isDeleted"
	FieldDeletedBy      = "deletedBy"
	FieldIsSettled      = "isSettled"
	FieldSettlementID   = "settlementId"
	FieldTransactionID  = "transactionId"
	FieldStatus         = "status"
	FieldCreatedAt      = "createdAt"
	FieldStartDate      = "startDate"
	FieldEndDate        = "endDate"
	FieldTotalAmount    = "totalAmount"
	FieldPayerUID       = "payerUid"
	FieldTransactionIDs = "transactionIds"
	FieldSettledByUID   = "settledByUid"
	FieldFromUID        = "fromUid"
	FieldToUID          = "toUid"
	FieldPasswordHash   = "passwordHash"
)

// fieldReader decodes typed values out of a document and collects every
// problem so one error can name all of them.
type fieldReader struct {
	ref    storage.Ref
	fields storage.Fields
	errs   []string
}

func newFieldReader(doc *storage.Document) *fieldReader {
	return &fieldReader{ref: doc.Ref, fields: doc.Fields}
}

func (r *fieldReader) fail(name, format string, args ...any) {
	r.errs = append(r.errs, name+": "+fmt.Sprintf(format, args...))
}

func (r *fieldReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidDocument, r.ref, strings.Join(r.errs, "; "))
}

// str reads a required, non-empty string.
func (r *fieldReader) str(name string) string {
	v, ok := r.fields[name]
	if !ok || v == nil {
		r.fail(name, "missing")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(name, "is %T, not string", v)
		return ""
	}
	if s == "" {
		r.fail(name, "empty")
	}
	return s
}

// optStr reads an optional string; absent or null is "".
func (r *fieldReader) optStr(name string) string {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(name, "is %T, not string", v)
	}
	return s
}

// optBool reads a flag that defaults to false.
func (r *fieldReader) optBool(name string) bool {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		r.fail(name, "is %T, not bool", v)
	}
	return b
}

// millis reads a required Unix millisecond timestamp.
func (r *fieldReader) millis(name string) time.Time {
	v, ok := r.fields[name]
	if !ok || v == nil {
		r.fail(name, "missing")
		return time.Time{}
	}
	n, err := toInt64(v)
	if err != nil {
		r.fail(name, "%v", err)
		return time.Time{}
	}
	return time.UnixMilli(n)
}

// amount reads a required decimal amount.
func (r *fieldReader) amount(name string) decimal.Decimal {
	v, ok := r.fields[name]
	if !ok || v == nil {
		r.fail(name, "missing")
		return decimal.Zero
	}
	d, err := toDecimal(v)
	if err != nil {
		r.fail(name, "%v", err)
	}
	return d
}

// strings reads an optional string array; absent is empty.
func (r *fieldReader) strings(name string) []string {
	out, err := storage.StringSlice(r.fields[name])
	if err != nil {
		r.fail(name, "%v", err)
		return []string{}
	}
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("is %T, not a number", v)
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		return decimal.NewFromString(n)
	case json.Number:
		return decimal.NewFromString(n.String())
	case float64:
		return decimal.NewFromFloat(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int32:
		return decimal.NewFromInt(int64(n)), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	default:
		return decimal.Zero, fmt.Errorf("is %T, not an amount", v)
	}
}

// optional returns nil for empty strings so they are stored as null.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package models

import (
	"time"

	"github.com/mmynk/duoledger/internal/storage"
)

// PartnerRequest invites ToUID to link accounts with FromUID.
// Status moves PENDING -> ACCEPTED or PENDING -> REJECTED.
type PartnerRequest struct {
	ID        string
	FromUID   string
	ToUID     string
	Status    RequestStatus
	CreatedAt time.Time
}

// PartnerRequestRef returns the document reference of a partner request.
func PartnerRequestRef(id string) storage.Ref {
	return storage.Doc(storage.CollectionPartnerRequests, id)
}

// Ref returns the document reference of the request.
func (p *PartnerRequest) Ref() storage.Ref {
	return PartnerRequestRef(p.ID)
}

// Fields encodes the request as a document body.
func (p *PartnerRequest) Fields() storage.Fields {
	return storage.Fields{
		FieldFromUID:   p.FromUID,
		FieldToUID:     p.ToUID,
		FieldStatus:    string(p.Status),
		FieldCreatedAt: p.CreatedAt.UnixMilli(),
	}
}

// PartnerRequestFromDoc decodes and validates a partner request document.
func PartnerRequestFromDoc(doc *storage.Document) (*PartnerRequest, error) {
	r := newFieldReader(doc)
	p := &PartnerRequest{
		ID:        doc.Ref.ID,
		FromUID:   r.str(FieldFromUID),
		ToUID:     r.str(FieldToUID),
		Status:    RequestStatus(r.str(FieldStatus)),
		CreatedAt: r.millis(FieldCreatedAt),
	}
	switch p.Status {
	case StatusPending, StatusAccepted, StatusRejected, "":
	default:
		r.fail(FieldStatus, "unknown status %q", p.Status)
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return p, nil
}

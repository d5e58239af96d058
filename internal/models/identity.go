package models

import (
	"time"

	"github.com/mmynk/duoledger/internal/storage"
)

// Identity is the credential record owned by the identity provider.
// It is kept apart from the User profile so the profile can be erased first.
type Identity struct {
	UID          string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// IdentityRef returns the document reference of an identity.
func IdentityRef(uid string) storage.Ref {
	return storage.Doc(storage.CollectionIdentities, uid)
}

// NewIdentity creates an identity with a fresh UID.
func NewIdentity(email, passwordHash string) *Identity {
	return &Identity{
		UID:          NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
}

// Fields encodes the identity as a document body.
func (i *Identity) Fields() storage.Fields {
	return storage.Fields{
		FieldEmail:        i.Email,
		FieldPasswordHash: i.PasswordHash,
		FieldCreatedAt:    i.CreatedAt.UnixMilli(),
	}
}

// IdentityFromDoc decodes and validates an identity document.
func IdentityFromDoc(doc *storage.Document) (*Identity, error) {
	r := newFieldReader(doc)
	i := &Identity{
		UID:          doc.Ref.ID,
		Email:        r.str(FieldEmail),
		PasswordHash: r.str(FieldPasswordHash),
		CreatedAt:    r.millis(FieldCreatedAt),
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return i, nil
}

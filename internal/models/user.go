package models

import (
	"slices"

	"github.com/mmynk/duoledger/internal/storage"
)

// User is the profile document of a registered account.
type User struct {
	// UID is the identity ID; it is also the document ID.
	UID string

	// DisplayName is shown to the partner in notifications.
	DisplayName string

	// Email is the user's email address.
	Email string

	// FCMToken is the push token of the user's device, if registered.
	FCMToken string

	// PartnerID is the unique linking code handed out to partners.
	// Generated externally.
	PartnerID string

	// PartnerUIDs are the users this account is linked with.
	// The relationship is symmetric: each partner lists this UID too.
	PartnerUIDs []string
}

// UserRef returns the document reference of a user.
func UserRef(uid string) storage.Ref {
	return storage.Doc(storage.CollectionUsers, uid)
}

// Ref returns the document reference of the user.
func (u *User) Ref() storage.Ref {
	return UserRef(u.UID)
}

// HasPartner reports whether uid is linked with this user.
func (u *User) HasPartner(uid string) bool {
	return slices.Contains(u.PartnerUIDs, uid)
}

// Fields encodes the user as a document body.
func (u *User) Fields() storage.Fields {
	partners := u.PartnerUIDs
	if partners == nil {
		partners = []string{}
	}
	return storage.Fields{
		FieldDisplayName: u.DisplayName,
		FieldEmail:       u.Email,
		FieldFCMToken:    optional(u.FCMToken),
		FieldPartnerID:   optional(u.PartnerID),
		FieldPartnerUIDs: partners,
	}
}

// UserFromDoc decodes and validates a user document.
func UserFromDoc(doc *storage.Document) (*User, error) {
	r := newFieldReader(doc)
	u := &User{
		UID:         doc.Ref.ID,
		DisplayName: r.str(FieldDisplayName),
		Email:       r.str(FieldEmail),
		FCMToken:    r.optStr(FieldFCMToken),
		PartnerID:   r.optStr(FieldPartnerID),
		PartnerUIDs: r.strings(FieldPartnerUIDs),
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return u, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("a valid email is required")
)

// PasswordAuthenticator implements password-based authentication using bcrypt.
// Identities live in their own collection next to the user profiles.
type PasswordAuthenticator struct {
	store storage.Store
	cost  int
}

// NewPasswordAuthenticator creates a new password-based authenticator.
func NewPasswordAuthenticator(store storage.Store) *PasswordAuthenticator {
	return &PasswordAuthenticator{
		store: store,
		cost:  bcrypt.DefaultCost,
	}
}

// WithCost sets the bcrypt cost of newly hashed passwords.
func (a *PasswordAuthenticator) WithCost(cost int) *PasswordAuthenticator {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		a.cost = cost
	}
	return a
}

// ValidateCredential checks if the password meets minimum requirements.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if len(credential) < 8 {
		return ErrWeakPassword
	}
	return nil
}

// Register creates the identity and the user profile in one transaction.
func (a *PasswordAuthenticator) Register(ctx context.Context, email, displayName, credential string) (*models.Identity, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if err := a.ValidateCredential(credential); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(credential), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	identity := models.NewIdentity(email, string(hashedPassword))
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	user := &models.User{UID: identity.UID, DisplayName: displayName, Email: email}

	err = a.store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		existing, err := tx.Query(ctx, storage.Where(storage.CollectionIdentities, models.FieldEmail, email).WithLimit(1))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrEmailExists
		}
		tx.Create(models.IdentityRef(identity.UID), identity.Fields())
		tx.Create(user.Ref(), user.Fields())
		return nil
	})
	if err != nil {
		// A concurrent registration can slip past the lookup; the unique
		// email index of the Mongo store then rejects the insert.
		if errors.Is(err, ErrEmailExists) || errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	return identity, nil
}

// Authenticate verifies the email and password, returning the identity if valid.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, email, credential string) (*models.Identity, error) {
	docs, err := a.store.Query(ctx, storage.Where(storage.CollectionIdentities, models.FieldEmail, normalizeEmail(email)).WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrInvalidCredentials
	}
	identity, err := models.IdentityFromDoc(docs[0])
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return identity, nil
}

// DeleteIdentity removes the identity document of uid.
func (a *PasswordAuthenticator) DeleteIdentity(ctx context.Context, uid string) error {
	if err := a.store.Delete(ctx, models.IdentityRef(uid)); err != nil {
		return fmt.Errorf("failed to delete identity %s: %w", uid, err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

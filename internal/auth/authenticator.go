package auth

import (
	"context"

	"github.com/mmynk/duoledger/internal/models"
)

// Authenticator defines the interface for authentication implementations.
// This abstraction allows swapping between different auth methods (password, OAuth, etc.)
// without changing the service layer code.
type Authenticator interface {
	// Register creates a login identity and the matching user profile.
	// The credential format depends on the implementation.
	Register(ctx context.Context, email, displayName, credential string) (*models.Identity, error)

	// Authenticate verifies the credentials and returns the identity if successful.
	Authenticate(ctx context.Context, email, credential string) (*models.Identity, error)

	// ValidateCredential checks if the credential meets the implementation's requirements.
	ValidateCredential(credential string) error

	// DeleteIdentity removes the login identity of uid. It succeeds when the
	// identity is already gone, so account erasure can be retried.
	DeleteIdentity(ctx context.Context, uid string) error
}

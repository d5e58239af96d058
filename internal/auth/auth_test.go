package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/duoledger/internal/models"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/storage/sqlite"
)

func newTestAuthenticator(t *testing.T) (*PasswordAuthenticator, storage.Store) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	a := NewPasswordAuthenticator(store)
	a.cost = bcrypt.MinCost
	return a, store
}

func TestRegisterAndAuthenticate(t *testing.T) {
	a, store := newTestAuthenticator(t)
	ctx := context.Background()

	identity, err := a.Register(ctx, " Alice@Example.com ", "Alice", "correct horse")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if identity.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized", identity.Email)
	}
	if identity.PasswordHash == "correct horse" {
		t.Error("password stored in clear")
	}

	// The profile shares the identity's UID.
	doc, err := store.Get(ctx, models.UserRef(identity.UID))
	if err != nil {
		t.Fatalf("profile missing: %v", err)
	}
	user, err := models.UserFromDoc(doc)
	if err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if user.DisplayName != "Alice" || user.Email != "alice@example.com" {
		t.Errorf("unexpected profile: %+v", user)
	}

	got, err := a.Authenticate(ctx, "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.UID != identity.UID {
		t.Errorf("authenticated %s, want %s", got.UID, identity.UID)
	}

	if _, err := a.Authenticate(ctx, "alice@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := a.Authenticate(ctx, "nobody@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegister_Errors(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	if _, err := a.Register(ctx, "bob@example.com", "Bob", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := a.Register(ctx, "not-an-email", "Bob", "long enough"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := a.Register(ctx, "bob@example.com", "", "long enough"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := a.Register(ctx, "BOB@example.com", "Bob", "long enough"); !errors.Is(err, ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}
}

func TestRegister_DefaultDisplayName(t *testing.T) {
	a, store := newTestAuthenticator(t)

	identity, err := a.Register(context.Background(), "carol@example.com", "", "long enough")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	doc, err := store.Get(context.Background(), models.UserRef(identity.UID))
	if err != nil {
		t.Fatalf("profile missing: %v", err)
	}
	if name := doc.Fields[models.FieldDisplayName]; name != "carol" {
		t.Errorf("displayName = %v, want carol", name)
	}
}

func TestDeleteIdentity(t *testing.T) {
	a, store := newTestAuthenticator(t)
	ctx := context.Background()

	identity, err := a.Register(ctx, "dave@example.com", "Dave", "long enough")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := a.DeleteIdentity(ctx, identity.UID); err != nil {
		t.Fatalf("DeleteIdentity failed: %v", err)
	}
	if _, err := store.Get(ctx, models.IdentityRef(identity.UID)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("identity should be gone, got %v", err)
	}
	if _, err := a.Authenticate(ctx, "dave@example.com", "long enough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("deleted identity must not authenticate, got %v", err)
	}

	// Deleting again is a no-op.
	if err := a.DeleteIdentity(ctx, identity.UID); err != nil {
		t.Errorf("second DeleteIdentity failed: %v", err)
	}
}

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	identity := &models.Identity{UID: "uid-1", Email: "alice@example.com"}

	token, err := m.Generate(identity)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UID() != "uid-1" || claims.Email != "alice@example.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	other := NewJWTManager("other-secret", time.Hour)
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	if _, err := m.Validate(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)
	token, err := m.Generate(&models.Identity{UID: "uid-1"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTManager_RejectsOtherAlgorithms(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "uid-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTManager_RejectsForeignIssuer(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "uid-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTManager_ClockInjection(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.Generate(&models.Identity{UID: "uid-1"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := m.Validate(token); err != nil {
		t.Fatalf("Validate at issue time failed: %v", err)
	}

	m.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expiry two hours later, got %v", err)
	}
	if _, err := m.Generate(&models.Identity{}); err == nil {
		t.Error("expected an error for an identity without uid")
	}
}

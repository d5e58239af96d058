package service

import (
	"context"
	"testing"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/pkg/api"
)

func TestRegisterAndLogin(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	reg, err := env.auth.Register(ctx, connect.NewRequest(&api.RegisterRequest{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "password123",
	}))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if reg.Msg.Token == "" || reg.Msg.User.ID == "" {
		t.Fatalf("incomplete response: %+v", reg.Msg)
	}
	if reg.Msg.User.DisplayName != "Alice" {
		t.Errorf("displayName = %q, want Alice", reg.Msg.User.DisplayName)
	}

	login, err := env.auth.Login(ctx, connect.NewRequest(&api.LoginRequest{
		Email:    "alice@example.com",
		Password: "password123",
	}))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if login.Msg.User.ID != reg.Msg.User.ID {
		t.Errorf("login user = %s, want %s", login.Msg.User.ID, reg.Msg.User.ID)
	}

	// The token works against the ledger.
	user := testUser{uid: login.Msg.User.ID, token: login.Msg.Token}
	if _, err := env.ledger.ListSettlements(ctx, as(user, &api.ListSettlementsRequest{})); err != nil {
		t.Errorf("ListSettlements with fresh token failed: %v", err)
	}
}

func TestRegister_Errors(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "Alice")

	tests := []struct {
		name string
		req  *api.RegisterRequest
		want connect.Code
	}{
		{"duplicate email", &api.RegisterRequest{Email: "alice@example.com", Password: "password123"}, connect.CodeAlreadyExists},
		{"missing email", &api.RegisterRequest{Password: "password123"}, connect.CodeInvalidArgument},
		{"weak password", &api.RegisterRequest{Email: "bob@example.com", Password: "short"}, connect.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.Register(ctx, connect.NewRequest(tt.req))
			assertCode(t, err, tt.want)
		})
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	env := setupTestServer(t)
	env.register(t, "alice@example.com", "Alice")

	_, err := env.auth.Login(context.Background(), connect.NewRequest(&api.LoginRequest{
		Email:    "alice@example.com",
		Password: "not-the-password",
	}))
	assertCode(t, err, connect.CodeUnauthenticated)

	_, err = env.auth.Login(context.Background(), connect.NewRequest(&api.LoginRequest{Email: "alice@example.com"}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/auth"
)

type callerKey struct{}

// caller is the authenticated principal of a request.
type caller struct {
	uid   string
	email string
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// GetUserID returns the caller's uid, or "" for unauthenticated requests.
func GetUserID(ctx context.Context) string {
	return callerFrom(ctx).uid
}

// GetEmail returns the caller's email, or "" when unknown.
func GetEmail(ctx context.Context) string {
	return callerFrom(ctx).email
}

// WithUserID marks ctx as authenticated for uid without a token.
// In-process callers and tests use it.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller{uid: uid})
}

// RequireAuth rejects requests without a valid bearer token and puts the
// token's caller into the handler context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			token, err := bearerToken(req.Header())
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			claims, err := jwtManager.Validate(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			ctx = context.WithValue(ctx, callerKey{}, caller{uid: claims.UID(), email: claims.Email})
			return next(ctx, req)
		}
	}
}

func bearerToken(h http.Header) (string, error) {
	value := h.Get("Authorization")
	if value == "" {
		return "", auth.ErrMissingToken
	}
	scheme, token, _ := strings.Cut(value, " ")
	token = strings.TrimSpace(token)
	if !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", auth.ErrInvalidToken
	}
	return token, nil
}

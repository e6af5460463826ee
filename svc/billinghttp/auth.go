package billinghttp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/creatorshop/billing/pkg/billing"
)

// AuthConfig holds the shared secret the auth provider signs access tokens
// with.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET,required"`
}

// TokenVerifier validates bearer tokens and extracts the caller's user ID
// from the subject claim.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for HS256-signed access tokens.
func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

// UserID authenticates the request's bearer token and returns the caller's
// user ID. Any failure maps to billing.ErrUnauthenticated so the HTTP layer
// never leaks parsing detail to the caller.
func (v *TokenVerifier) UserID(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return uuid.Nil, billing.ErrUnauthenticated
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.Join(billing.ErrUnauthenticated, err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return uuid.Nil, billing.ErrUnauthenticated
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, errors.Join(billing.ErrUnauthenticated, err)
	}

	return userID, nil
}

type contextKey struct{ name string }

var userIDKey = contextKey{"user_id"}

// SetUserID stores the authenticated user ID in the context.
func SetUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user ID.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

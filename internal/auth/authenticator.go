package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/msomdec/daily-report/internal/domain"
)

const bearerPrefix = "Bearer "

// UserFinder looks users up by email.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Authenticator resolves the identity carried by a bearer credential.
// Every failure degrades to "no identity"; it never reports an error.
type Authenticator struct {
	tokens domain.TokenService
	users  UserFinder
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens domain.TokenService, users UserFinder) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// BearerToken extracts the token from an Authorization header value.
// The scheme match is case-insensitive.
func BearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// Authenticate returns the identity for the given Authorization header value.
// The boolean is false when the request should proceed anonymously.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (domain.Identity, bool) {
	token, ok := BearerToken(header)
	if !ok {
		return domain.Identity{}, false
	}

	email, err := a.tokens.ExtractSubject(token)
	if err != nil {
		slog.DebugContext(ctx, "bearer token rejected", "error", err)
		return domain.Identity{}, false
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		slog.DebugContext(ctx, "bearer token subject not resolved", "error", err)
		return domain.Identity{}, false
	}

	if !a.tokens.Validate(token, user.Email) {
		return domain.Identity{}, false
	}

	return domain.Identity{UserID: user.ID, Email: user.Email}, true
}

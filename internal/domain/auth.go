package domain

import "context"

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID int64
	Email  string
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// TokenService issues and validates signed bearer tokens. The same tokens
// serve as session credentials and as password reset tickets.
type TokenService interface {
	Issue(subject string, userID int64) (string, error)
	ExtractSubject(token string) (string, error)
	ExtractUserID(token string) (int64, error)
	Validate(token, expectedSubject string) bool
}

// ResetNotifier delivers a password reset ticket to its owner out of band.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

package domain

import (
	"context"
	"time"
)

// User is a registered account. Email is the case-sensitive lookup key.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	// ResetToken holds the most recently issued password reset ticket.
	// It is nil when no reset is pending.
	ResetToken *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserDirectory defines persistence operations for users.
//
// Save inserts the user when ID is zero and assigns the new ID; otherwise it
// overwrites the password hash and reset token of the existing record.
// Implementations return ErrNotFound for missing users and
// ErrDuplicateIdentity when the email is already taken.
//
// SetResetToken and UpdatePassword each write only the columns they name in
// a single statement, so they never put back values read earlier.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Save(ctx context.Context, user *User) error

	// SetResetToken stores token (nil clears it) on the user with id.
	SetResetToken(ctx context.Context, id int64, token *string) error

	// UpdatePassword replaces the password hash and clears the reset token.
	// When expectedToken is non-nil the write applies only while the stored
	// reset token still equals it, and ErrTokenInvalid is returned otherwise.
	UpdatePassword(ctx context.Context, id int64, hash string, expectedToken *string) error
}

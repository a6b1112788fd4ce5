package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/msomdec/daily-report/internal/domain"
)

// Confirmation messages returned to clients.
const (
	MsgRegistered    = "Registration successful"
	MsgLoggedIn      = "Login successful"
	MsgResetSent     = "A password reset link has been sent to your email"
	MsgPasswordReset = "Password has been reset successfully"
)

// Operation and outcome labels reported to AuthMetrics.
const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpForgotPassword = "forgot_password"
	OpResetPassword  = "reset_password"

	OutcomeSuccess            = "success"
	OutcomeInvalidInput       = "invalid_input"
	OutcomeDuplicate          = "duplicate"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeUserNotFound       = "user_not_found"
	OutcomeTokenInvalid       = "token_invalid"
	OutcomeError              = "error"
)

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token   string
	UserID  int64
	Email   string
	Message string
}

// AuthMetrics receives one observation per completed auth operation.
type AuthMetrics interface {
	ObserveAuth(operation, outcome string)
}

// AuthService handles registration, login, and the forgot/reset password flow.
type AuthService struct {
	users    domain.UserDirectory
	hasher   domain.PasswordHasher
	tokens   domain.TokenService
	notifier domain.ResetNotifier
	metrics  AuthMetrics

	// strictReset requires a reset ticket to equal the one stored on the user.
	strictReset bool

	dummyOnce sync.Once
	dummyHash string
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithResetNotifier sets where reset tickets are delivered. Without one,
// tickets are persisted but not sent anywhere.
func WithResetNotifier(n domain.ResetNotifier) AuthOption {
	return func(s *AuthService) {
		s.notifier = n
	}
}

// WithStrictResetTicket toggles whether ResetPassword only accepts the most
// recently issued, unused reset ticket. Enabled by default.
func WithStrictResetTicket(strict bool) AuthOption {
	return func(s *AuthService) {
		s.strictReset = strict
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m AuthMetrics) AuthOption {
	return func(s *AuthService) {
		s.metrics = m
	}
}

// NewAuthService creates a new AuthService.
func NewAuthService(users domain.UserDirectory, hasher domain.PasswordHasher, tokens domain.TokenService, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		strictReset: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new account and returns a session token for it.
func (s *AuthService) Register(ctx context.Context, email, password string) (res *AuthResult, err error) {
	defer func() { s.observe(OpRegister, err) }()

	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}

	_, err = s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, domain.ErrDuplicateIdentity
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("get user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.Issue(user.Email, user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	slog.InfoContext(ctx, "user registered", "user_id", user.ID)
	return &AuthResult{Token: token, UserID: user.ID, Email: user.Email, Message: MsgRegistered}, nil
}

// Login verifies credentials and returns a fresh session token. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (res *AuthResult, err error) {
	defer func() { s.observe(OpLogin, err) }()

	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Spend one verification so the unknown-user path costs the same.
			s.hasher.Verify(password, s.timingHash())
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		slog.DebugContext(ctx, "login rejected", "user_id", user.ID)
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.Email, user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &AuthResult{Token: token, UserID: user.ID, Email: user.Email, Message: MsgLoggedIn}, nil
}

// ForgotPassword issues a reset ticket, stores it on the user, and hands it
// to the ResetNotifier. The ticket itself is never returned.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (msg string, err error) {
	defer func() { s.observe(OpForgotPassword, err) }()

	if email == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("get user: %w", err)
	}

	ticket, err := s.tokens.Issue(user.Email, user.ID)
	if err != nil {
		return "", fmt.Errorf("issue reset ticket: %w", err)
	}

	if err := s.users.SetResetToken(ctx, user.ID, &ticket); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("store reset ticket: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendPasswordReset(ctx, user.Email, ticket); err != nil {
			slog.WarnContext(ctx, "password reset delivery failed", "user_id", user.ID, "error", err)
		}
	}

	return MsgResetSent, nil
}

// ResetPassword sets a new password for the owner of a valid reset ticket
// and clears the stored ticket.
func (s *AuthService) ResetPassword(ctx context.Context, ticket, newPassword string) (msg string, err error) {
	defer func() { s.observe(OpResetPassword, err) }()

	if newPassword == "" {
		return "", fmt.Errorf("%w: new password is required", domain.ErrInvalidInput)
	}
	if ticket == "" {
		return "", domain.ErrTokenInvalid
	}

	email, err := s.tokens.ExtractSubject(ticket)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %w", domain.ErrTokenInvalid, err)
		}
		return "", err
	}
	if !s.tokens.Validate(ticket, email) {
		return "", domain.ErrTokenInvalid
	}

	userID, err := s.tokens.ExtractUserID(ticket)
	if err != nil {
		return "", err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("get user: %w", err)
	}

	if s.strictReset && !ticketMatches(user.ResetToken, ticket) {
		slog.DebugContext(ctx, "reset ticket does not match stored ticket", "user_id", user.ID)
		return "", fmt.Errorf("%w: reset ticket is not current", domain.ErrTokenInvalid)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	// In strict mode the write is conditional on the ticket still being the
	// stored one, so a concurrent reset or a newer ticket wins.
	var expected *string
	if s.strictReset {
		expected = &ticket
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, expected); err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenInvalid):
			return "", fmt.Errorf("%w: reset ticket is not current", domain.ErrTokenInvalid)
		case errors.Is(err, domain.ErrNotFound):
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("update password: %w", err)
	}

	slog.InfoContext(ctx, "password reset", "user_id", user.ID)
	return MsgPasswordReset, nil
}

// timingHash returns a throwaway digest produced by the configured hasher.
func (s *AuthService) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("timing-equalization-password")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func (s *AuthService) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveAuth(op, Outcome(err))
}

// Outcome maps an auth error to its metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, domain.ErrDuplicateIdentity):
		return OutcomeDuplicate
	case errors.Is(err, domain.ErrInvalidCredentials):
		return OutcomeInvalidCredentials
	case errors.Is(err, domain.ErrUserNotFound):
		return OutcomeUserNotFound
	case errors.Is(err, domain.ErrTokenInvalid), errors.Is(err, domain.ErrTokenExpired):
		return OutcomeTokenInvalid
	default:
		return OutcomeError
	}
}

func ticketMatches(stored *string, presented string) bool {
	if stored == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(presented)) == 1
}

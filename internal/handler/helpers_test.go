package handler_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/msomdec/daily-report/internal/auth"
	"github.com/msomdec/daily-report/internal/domain"
	"github.com/msomdec/daily-report/internal/repository/sqlite"
	"github.com/msomdec/daily-report/internal/service"
)

const testJWTSecret = "test-secret-for-handler-tests-0123456789"

// captureNotifier keeps the last reset ticket per email.
type captureNotifier struct {
	mu      sync.Mutex
	tickets map[string]string
}

func (c *captureNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tickets == nil {
		c.tickets = make(map[string]string)
	}
	c.tickets[email] = token
	return nil
}

func (c *captureNotifier) ticket(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickets[email]
}

type testEnv struct {
	auth          *service.AuthService
	tokens        *auth.TokenService
	authenticator *auth.Authenticator
	users         domain.UserDirectory
	notifier      *captureNotifier
	now           time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		users:    db.Users(),
		notifier: &captureNotifier{},
		now:      time.Now(),
	}
	tokens, err := auth.NewTokenService(testJWTSecret, time.Hour, auth.WithClock(func() time.Time { return env.now }))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	env.tokens = tokens
	env.authenticator = auth.NewAuthenticator(tokens, db.Users())
	env.auth = service.NewAuthService(db.Users(), auth.NewBcryptHasher(bcrypt.MinCost), tokens,
		service.WithResetNotifier(env.notifier))
	return env
}

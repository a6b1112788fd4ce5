package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/msomdec/daily-report/internal/auth"
	"github.com/msomdec/daily-report/internal/domain"
	"github.com/msomdec/daily-report/internal/repository/sqlite"
	"github.com/msomdec/daily-report/internal/service"
)

const testJWTSecret = "test-secret-key-for-unit-tests-0123456789"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outbox struct {
	mu     sync.Mutex
	sent   map[string]string
	fail   bool
	called int
}

func (o *outbox) SendPasswordReset(_ context.Context, email, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.called++
	if o.fail {
		return errors.New("smtp down")
	}
	if o.sent == nil {
		o.sent = make(map[string]string)
	}
	o.sent[email] = token
	return nil
}

func (o *outbox) last(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[email]
}

type recorder struct {
	mu  sync.Mutex
	got map[string]int
}

func (r *recorder) ObserveAuth(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = make(map[string]int)
	}
	r.got[operation+"/"+outcome]++
}

type fixture struct {
	svc    *service.AuthService
	users  domain.UserDirectory
	tokens *auth.TokenService
	clock  *clock
	outbox *outbox
}

func newFixture(t *testing.T, opts ...service.AuthOption) *fixture {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	clk := &clock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokenService(testJWTSecret, 24*time.Hour, auth.WithClock(clk.Now))
	require.NoError(t, err)

	box := &outbox{}
	opts = append([]service.AuthOption{service.WithResetNotifier(box)}, opts...)

	return &fixture{
		svc:    service.NewAuthService(db.Users(), auth.NewBcryptHasher(bcrypt.MinCost), tokens, opts...),
		users:  db.Users(),
		tokens: tokens,
		clock:  clk,
		outbox: box,
	}
}

// The end-to-end credential lifecycle for a single account, with ticket
// checking relaxed so any valid token for the user resets the password.
func TestAuthService_CredentialLifecycle(t *testing.T) {
	f := newFixture(t, service.WithStrictResetTicket(false))
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.NotZero(t, reg.UserID)
	assert.Equal(t, "a@x.com", reg.Email)
	assert.Equal(t, service.MsgRegistered, reg.Message)
	subject, err := f.tokens.ExtractSubject(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", subject)

	_, err = f.svc.Register(ctx, "a@x.com", "other")
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)

	_, err = f.svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	login, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, login.UserID)
	assert.Equal(t, service.MsgLoggedIn, login.Message)

	msg, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, service.MsgResetSent, msg)

	ticket := f.outbox.last("a@x.com")
	require.NotEmpty(t, ticket)
	assert.NotContains(t, msg, ticket)

	stored, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, stored.ResetToken)
	assert.Equal(t, ticket, *stored.ResetToken)

	msg, err = f.svc.ResetPassword(ctx, ticket, "pw2")
	require.NoError(t, err)
	assert.Equal(t, service.MsgPasswordReset, msg)

	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "a@x.com", "pw2")
	require.NoError(t, err)

	stored, err = f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetToken)
}

func TestAuthService_Login_UnknownUserIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "known@x.com", "pw")
	require.NoError(t, err)

	_, unknownErr := f.svc.Login(ctx, "ghost@x.com", "pw")
	_, wrongErr := f.svc.Login(ctx, "known@x.com", "nope")

	assert.ErrorIs(t, unknownErr, domain.ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, domain.ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestAuthService_Login_EmailIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "A@X.com", "pw")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthService_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "", "pw")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.Register(ctx, "a@x.com", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.Login(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.ForgotPassword(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.ResetPassword(ctx, "whatever", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.ResetPassword(ctx, "", "pw")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestAuthService_ForgotPassword_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ForgotPassword(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Zero(t, f.outbox.called)
}

func TestAuthService_ForgotPassword_DeliveryFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.outbox.fail = true

	_, err := f.svc.Register(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	msg, err := f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, service.MsgResetSent, msg)

	stored, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotNil(t, stored.ResetToken)
}

func TestAuthService_ResetPassword_Strict(t *testing.T) {
	ctx := context.Background()

	t.Run("session token is not a reset ticket", func(t *testing.T) {
		f := newFixture(t)
		reg, err := f.svc.Register(ctx, "a@x.com", "pw1")
		require.NoError(t, err)

		_, err = f.svc.ResetPassword(ctx, reg.Token, "pw2")
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	})

	t.Run("same-second session token is not a reset ticket", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "a@x.com", "pw1")
		require.NoError(t, err)
		_, err = f.svc.ForgotPassword(ctx, "a@x.com")
		require.NoError(t, err)
		login, err := f.svc.Login(ctx, "a@x.com", "pw1")
		require.NoError(t, err)
		require.NotEqual(t, f.outbox.last("a@x.com"), login.Token)

		_, err = f.svc.ResetPassword(ctx, login.Token, "pw2")
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)

		_, err = f.svc.Login(ctx, "a@x.com", "pw1")
		assert.NoError(t, err)
	})

	t.Run("superseded ticket is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "a@x.com", "pw1")
		require.NoError(t, err)

		_, err = f.svc.ForgotPassword(ctx, "a@x.com")
		require.NoError(t, err)
		first := f.outbox.last("a@x.com")

		_, err = f.svc.ForgotPassword(ctx, "a@x.com")
		require.NoError(t, err)
		second := f.outbox.last("a@x.com")
		require.NotEqual(t, first, second)

		_, err = f.svc.ResetPassword(ctx, first, "pw2")
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)

		_, err = f.svc.ResetPassword(ctx, second, "pw2")
		require.NoError(t, err)
	})

	t.Run("ticket is single use", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "a@x.com", "pw1")
		require.NoError(t, err)
		_, err = f.svc.ForgotPassword(ctx, "a@x.com")
		require.NoError(t, err)
		ticket := f.outbox.last("a@x.com")

		_, err = f.svc.ResetPassword(ctx, ticket, "pw2")
		require.NoError(t, err)

		_, err = f.svc.ResetPassword(ctx, ticket, "pw3")
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)

		_, err = f.svc.Login(ctx, "a@x.com", "pw2")
		assert.NoError(t, err)
	})
}

func TestAuthService_ResetPassword_Compat_AcceptsAnyValidToken(t *testing.T) {
	f := newFixture(t, service.WithStrictResetTicket(false))
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, reg.Token, "pw2")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "a@x.com", "pw2")
	assert.NoError(t, err)
}

func TestAuthService_ResetPassword_ExpiredTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	_, err = f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	ticket := f.outbox.last("a@x.com")

	f.clock.Advance(25 * time.Hour)

	_, err = f.svc.ResetPassword(ctx, ticket, "pw2")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)

	_, err = f.svc.Login(ctx, "a@x.com", "pw1")
	assert.NoError(t, err, "password must be unchanged")
}

func TestAuthService_ResetPassword_TamperedTicketLeavesUserUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	_, err = f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	ticket := f.outbox.last("a@x.com")

	before, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)

	tampered := ticket[:len(ticket)-2] + "xx"
	if tampered == ticket {
		tampered = ticket[:len(ticket)-2] + "yy"
	}
	_, err = f.svc.ResetPassword(ctx, tampered, "pw2")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	after, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, before.ResetToken, after.ResetToken)
}

func TestAuthService_ResetPassword_UserGone(t *testing.T) {
	f := newFixture(t, service.WithStrictResetTicket(false))

	ticket, err := f.tokens.Issue("ghost@x.com", 999)
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(context.Background(), ticket, "pw")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestAuthService_Metrics(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, service.WithMetrics(rec))
	ctx := context.Background()

	_, _ = f.svc.Register(ctx, "a@x.com", "pw")
	_, _ = f.svc.Register(ctx, "a@x.com", "pw")
	_, _ = f.svc.Login(ctx, "a@x.com", "bad")
	_, _ = f.svc.ForgotPassword(ctx, "ghost@x.com")
	_, _ = f.svc.ResetPassword(ctx, "garbage", "pw")

	assert.Equal(t, map[string]int{
		"register/success":               1,
		"register/duplicate":             1,
		"login/invalid_credentials":      1,
		"forgot_password/user_not_found": 1,
		"reset_password/token_invalid":   1,
	}, rec.got)
}

// interleavingDirectory runs hook once, right after the first lookup of the
// matching kind returns and before the caller writes anything.
type interleavingDirectory struct {
	domain.UserDirectory
	afterFindByEmail func()
	afterFindByID    func()
}

func (d *interleavingDirectory) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := d.UserDirectory.FindByEmail(ctx, email)
	if hook := d.afterFindByEmail; hook != nil {
		d.afterFindByEmail = nil
		hook()
	}
	return u, err
}

func (d *interleavingDirectory) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := d.UserDirectory.FindByID(ctx, id)
	if hook := d.afterFindByID; hook != nil {
		d.afterFindByID = nil
		hook()
	}
	return u, err
}

func newInterleavingFixture(t *testing.T, opts ...service.AuthOption) (*fixture, *interleavingDirectory) {
	t.Helper()
	f := newFixture(t)
	dir := &interleavingDirectory{UserDirectory: f.users}
	opts = append([]service.AuthOption{service.WithResetNotifier(f.outbox)}, opts...)
	f.svc = service.NewAuthService(dir, auth.NewBcryptHasher(bcrypt.MinCost), f.tokens, opts...)
	return f, dir
}

func TestAuthService_ForgotPassword_KeepsConcurrentReset(t *testing.T) {
	tests := []struct {
		name   string
		strict bool
	}{
		{"strict", true},
		{"compat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, dir := newInterleavingFixture(t, service.WithStrictResetTicket(tt.strict))
			ctx := context.Background()

			_, err := f.svc.Register(ctx, "a@x.com", "pw1")
			require.NoError(t, err)
			_, err = f.svc.ForgotPassword(ctx, "a@x.com")
			require.NoError(t, err)
			pending := f.outbox.last("a@x.com")

			var resetErr error
			dir.afterFindByEmail = func() {
				_, resetErr = f.svc.ResetPassword(ctx, pending, "pw2")
			}
			_, err = f.svc.ForgotPassword(ctx, "a@x.com")
			require.NoError(t, err)
			require.NoError(t, resetErr)

			_, err = f.svc.Login(ctx, "a@x.com", "pw2")
			assert.NoError(t, err, "reset must survive the concurrent forgot-password")
			_, err = f.svc.Login(ctx, "a@x.com", "pw1")
			assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

			stored, err := f.users.FindByEmail(ctx, "a@x.com")
			require.NoError(t, err)
			require.NotNil(t, stored.ResetToken)
			assert.Equal(t, f.outbox.last("a@x.com"), *stored.ResetToken)
		})
	}
}

func TestAuthService_ResetPassword_ConcurrentUseOfOneTicket(t *testing.T) {
	f, dir := newInterleavingFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	_, err = f.svc.ForgotPassword(ctx, "a@x.com")
	require.NoError(t, err)
	ticket := f.outbox.last("a@x.com")

	var innerErr error
	dir.afterFindByID = func() {
		_, innerErr = f.svc.ResetPassword(ctx, ticket, "pw2")
	}
	_, outerErr := f.svc.ResetPassword(ctx, ticket, "pw3")

	require.NoError(t, innerErr)
	assert.ErrorIs(t, outerErr, domain.ErrTokenInvalid)

	_, err = f.svc.Login(ctx, "a@x.com", "pw2")
	assert.NoError(t, err)
	_, err = f.svc.Login(ctx, "a@x.com", "pw3")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

// memDirectory is an in-memory UserDirectory that counts writes.
type memDirectory struct {
	users  map[string]*domain.User
	writes int
}

func (m *memDirectory) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	if u, ok := m.users[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memDirectory) FindByID(_ context.Context, id int64) (*domain.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memDirectory) Save(_ context.Context, u *domain.User) error {
	m.writes++
	if u.ID == 0 {
		u.ID = int64(len(m.users) + 1)
	}
	cp := *u
	m.users[u.Email] = &cp
	return nil
}

func (m *memDirectory) SetResetToken(_ context.Context, id int64, token *string) error {
	m.writes++
	for _, u := range m.users {
		if u.ID == id {
			u.ResetToken = token
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memDirectory) UpdatePassword(_ context.Context, id int64, hash string, expectedToken *string) error {
	m.writes++
	for _, u := range m.users {
		if u.ID != id {
			continue
		}
		if expectedToken != nil && (u.ResetToken == nil || *u.ResetToken != *expectedToken) {
			return domain.ErrTokenInvalid
		}
		u.PasswordHash = hash
		u.ResetToken = nil
		return nil
	}
	return domain.ErrNotFound
}

type brokenHasher struct{}

func (brokenHasher) Hash(string) (string, error) { return "", errors.New("hasher exploded") }
func (brokenHasher) Verify(string, string) bool  { return false }

func TestAuthService_HashFailureDoesNotMutate(t *testing.T) {
	tokens, err := auth.NewTokenService(testJWTSecret, time.Hour)
	require.NoError(t, err)

	existing := &domain.User{ID: 1, Email: "a@x.com", PasswordHash: "old"}
	dir := &memDirectory{users: map[string]*domain.User{"a@x.com": existing}}
	svc := service.NewAuthService(dir, brokenHasher{}, tokens, service.WithStrictResetTicket(false))
	ctx := context.Background()

	_, err = svc.Register(ctx, "b@x.com", "pw")
	require.Error(t, err)
	assert.Zero(t, dir.writes)

	ticket, err := tokens.Issue("a@x.com", 1)
	require.NoError(t, err)
	_, err = svc.ResetPassword(ctx, ticket, "new")
	require.Error(t, err)
	assert.Zero(t, dir.writes)
	assert.Equal(t, "old", dir.users["a@x.com"].PasswordHash)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, service.OutcomeSuccess},
		{domain.ErrInvalidInput, service.OutcomeInvalidInput},
		{domain.ErrDuplicateIdentity, service.OutcomeDuplicate},
		{domain.ErrInvalidCredentials, service.OutcomeInvalidCredentials},
		{domain.ErrUserNotFound, service.OutcomeUserNotFound},
		{domain.ErrTokenExpired, service.OutcomeTokenInvalid},
		{errors.New("boom"), service.OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, service.Outcome(tt.err))
	}
}

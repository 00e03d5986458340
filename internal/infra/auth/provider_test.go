package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/snapsense/internal/domain/auth"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type memUsers struct {
	mu   sync.Mutex
	byEm map[string]*domain.User
}

func (m *memUsers) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEm[u.Email]; ok {
		return domain.ErrUserExists
	}
	cp := *u
	m.byEm[u.Email] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEm[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) MarkVerified(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEm {
		if u.ID == id {
			u.VerifiedAt = &at
			u.VerificationCode = ""
			u.VerifyAttempts = 0
			return nil
		}
	}
	return domain.ErrUserNotFound
}

func (m *memUsers) RecordFailedVerify(_ context.Context, id string, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEm {
		if u.ID == id {
			if u.VerifyAttempts >= limit {
				return domain.ErrTooManyAttempts
			}
			u.VerifyAttempts++
			return nil
		}
	}
	return domain.ErrUserNotFound
}

type memSessions struct {
	mu   sync.Mutex
	rows map[string]*domain.Session
}

func (m *memSessions) Create(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Token = ""
	m.rows[s.ID] = &cp
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if s.Expired(now) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type captureNotifier struct{ codes map[string]string }

func (c *captureNotifier) SendVerification(_ context.Context, email, code string) error {
	c.codes[email] = code
	return nil
}

func newProvider(t *testing.T) (*Provider, *captureNotifier, *fixedClock) {
	t.Helper()
	signer, err := NewSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	n := &captureNotifier{codes: map[string]string{}}
	clock := &fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return &Provider{
		Users:      &memUsers{byEm: map[string]*domain.User{}},
		Sessions:   &memSessions{rows: map[string]*domain.Session{}},
		Signer:     signer,
		Notifier:   n,
		Clock:      clock,
		SessionTTL: time.Hour,
	}, n, clock
}

func TestProvider_FullFlow(t *testing.T) {
	p, n, _ := newProvider(t)
	ctx := context.Background()
	require.NoError(t, p.Ready(ctx))

	u, err := p.SignUp(ctx, "a@b.c", "correct horse")
	require.NoError(t, err)
	assert.False(t, u.Verified())
	code := n.codes["a@b.c"]
	assert.Len(t, code, 6)

	_, err = p.SignIn(ctx, "a@b.c", "correct horse")
	assert.ErrorIs(t, err, domain.ErrEmailNotVerified)

	_, err = p.Verify(ctx, "a@b.c", "999999x")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	u, err = p.Verify(ctx, "a@b.c", code)
	require.NoError(t, err)
	assert.True(t, u.Verified())

	s, err := p.SignIn(ctx, "a@b.c", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, u.ID, s.UserID)

	got, err := p.Session(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	require.NoError(t, p.SignOut(ctx, s.ID))
	_, err = p.Session(ctx, s.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestProvider_SignInRejectsBadCredentials(t *testing.T) {
	p, n, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.c", "correct horse")
	require.NoError(t, err)
	_, err = p.Verify(ctx, "a@b.c", n.codes["a@b.c"])
	require.NoError(t, err)

	_, err = p.SignIn(ctx, "a@b.c", "wrong horse")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = p.SignIn(ctx, "nobody@b.c", "correct horse")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestProvider_VerifyLocksAfterMaxAttempts(t *testing.T) {
	p, n, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.c", "correct horse")
	require.NoError(t, err)
	code := n.codes["a@b.c"]
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < MaxVerifyAttempts; i++ {
		_, err = p.Verify(ctx, "a@b.c", wrong)
		require.ErrorIs(t, err, domain.ErrInvalidCode, "attempt %d", i+1)
	}

	// even the right code is refused once the cap is used up
	_, err = p.Verify(ctx, "a@b.c", code)
	assert.ErrorIs(t, err, domain.ErrTooManyAttempts)

	u, err := p.Users.GetByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	assert.False(t, u.Verified())
	assert.Equal(t, MaxVerifyAttempts, u.VerifyAttempts)
}

func TestProvider_VerifyResetsAttemptsOnSuccess(t *testing.T) {
	p, n, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.c", "correct horse")
	require.NoError(t, err)
	code := n.codes["a@b.c"]

	_, err = p.Verify(ctx, "a@b.c", "x")
	require.ErrorIs(t, err, domain.ErrInvalidCode)

	u, err := p.Verify(ctx, "a@b.c", code)
	require.NoError(t, err)
	assert.Zero(t, u.VerifyAttempts)
}

func TestProvider_SignUpValidation(t *testing.T) {
	p, _, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.c", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = p.SignUp(ctx, "a@b.c", "long enough")
	require.NoError(t, err)
	_, err = p.SignUp(ctx, "a@b.c", "long enough")
	assert.ErrorIs(t, err, domain.ErrUserExists)
}

func TestProvider_ExpiredToken(t *testing.T) {
	p, n, clock := newProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "a@b.c", "correct horse")
	require.NoError(t, err)
	_, err = p.Verify(ctx, "a@b.c", n.codes["a@b.c"])
	require.NoError(t, err)
	s, err := p.SignIn(ctx, "a@b.c", "correct horse")
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Hour)
	_, err = p.Session(ctx, s.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	require.NoError(t, p.Ready(ctx))
	_, err = p.Sessions.Get(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.Len(t, strings.Split(hash, "."), 2)

	ok, err := ComparePassword("s3cret-pass", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ComparePassword("other", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ComparePassword("x", "no-dot")
	assert.Error(t, err)
}

func TestSigner(t *testing.T) {
	_, err := NewSigner("short")
	assert.Error(t, err)

	s, err := NewSigner("0123456789abcdef")
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tok, err := s.Sign("s1", "u1", "a@b.c", now, now.Add(time.Minute))
	require.NoError(t, err)

	c, err := s.Parse(tok, now)
	require.NoError(t, err)
	assert.Equal(t, "s1", c.ID)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, "a@b.c", c.Email)

	_, err = s.Parse(tok, now.Add(time.Hour))
	assert.Error(t, err)

	other, _ := NewSigner("fedcba9876543210")
	_, err = other.Parse(tok, now)
	assert.Error(t, err)
}

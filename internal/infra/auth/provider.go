// Package auth is a small database-backed auth provider: argon2id passwords,
// emailed verification codes and JWT bearer sessions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/snapsense/internal/application"
	domain "github.com/bryanwahyu/snapsense/internal/domain/auth"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	MinPasswordLength = 8
	// MaxVerifyAttempts wrong codes lock verification for the account.
	MaxVerifyAttempts = 5
)

var ErrWeakPassword = errors.New("password is too short")

type Provider struct {
	Users      domain.UserRepository
	Sessions   domain.SessionRepository
	Signer     *Signer
	Notifier   Notifier
	Clock      application.Clock
	SessionTTL time.Duration
}

func (p *Provider) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock.Now()
}

// Ready purges expired sessions, which doubles as a store round trip.
func (p *Provider) Ready(ctx context.Context) error {
	if p.Users == nil || p.Sessions == nil || p.Signer == nil {
		return errors.New("auth provider is not configured")
	}
	_, err := p.Sessions.DeleteExpired(ctx, p.now())
	return err
}

func (p *Provider) SignUp(ctx context.Context, email, password string) (*domain.User, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	code, err := verificationCode()
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		ID:               uuid.NewString(),
		Email:            email,
		PasswordHash:     hash,
		VerificationCode: code,
		CreatedAt:        p.now(),
	}
	if err := p.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	if p.Notifier != nil {
		if err := p.Notifier.SendVerification(ctx, email, code); err != nil {
			return nil, fmt.Errorf("send verification: %w", err)
		}
	}
	return u, nil
}

func (p *Provider) Verify(ctx context.Context, email, code string) (*domain.User, error) {
	u, err := p.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCode
		}
		return nil, err
	}
	if u.Verified() {
		return u, nil
	}
	if u.VerifyAttempts >= MaxVerifyAttempts {
		return nil, domain.ErrTooManyAttempts
	}
	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(u.VerificationCode)) != 1 {
		if err := p.Users.RecordFailedVerify(ctx, u.ID, MaxVerifyAttempts); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidCode
	}
	at := p.now()
	if err := p.Users.MarkVerified(ctx, u.ID, at); err != nil {
		return nil, err
	}
	u.VerifiedAt = &at
	u.VerificationCode = ""
	u.VerifyAttempts = 0
	return u, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	u, err := p.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := ComparePassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, domain.ErrInvalidCredentials
	}
	if !u.Verified() {
		return nil, domain.ErrEmailNotVerified
	}

	ttl := p.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := p.now()
	s := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Email:     u.Email,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if s.Token, err = p.Signer.Sign(s.ID, s.UserID, s.Email, now, s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := p.Sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Provider) SignOut(ctx context.Context, sessionID string) error {
	return p.Sessions.Delete(ctx, sessionID)
}

// Session accepts a token only while its session row still exists.
func (p *Provider) Session(ctx context.Context, token string) (*domain.Session, error) {
	claims, err := p.Signer.Parse(strings.TrimSpace(token), p.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	s, err := p.Sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	if s.UserID != claims.Subject {
		return nil, domain.ErrInvalidToken
	}
	if s.Expired(p.now()) {
		return nil, domain.ErrSessionExpired
	}
	s.Token = token
	return s, nil
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

var _ domain.Provider = (*Provider)(nil)

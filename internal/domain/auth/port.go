package auth

import (
	"context"
	"time"
)

// Provider is the auth backend the session manager wraps.
type Provider interface {
	// Ready reports whether the provider can serve requests.
	Ready(ctx context.Context) error
	SignUp(ctx context.Context, email, password string) (*User, error)
	Verify(ctx context.Context, email, code string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, sessionID string) error
	// Session resolves a bearer token into a live session.
	Session(ctx context.Context, token string) (*Session, error)
}

// UserRepository port
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
	// RecordFailedVerify counts a wrong code while the count is below limit.
	// Returns ErrTooManyAttempts once limit attempts have been used.
	RecordFailedVerify(ctx context.Context, id string, limit int) error
}

// SessionRepository port
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

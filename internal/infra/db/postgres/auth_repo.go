package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bryanwahyu/snapsense/internal/domain/auth"
)

type UserRepository struct{ db *sql.DB }

func NewUserRepository(db *sql.DB) *UserRepository { return &UserRepository{db: db} }

func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	const q = `
INSERT INTO users (id, email, password_hash, verification_code, verified_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.Email, u.PasswordHash, u.VerificationCode, nullTime(u.VerifiedAt), u.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return auth.ErrUserExists
	}
	return err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	const q = `
SELECT id, email, password_hash, verification_code, verify_attempts, verified_at, created_at
FROM users WHERE email = $1`

	var u auth.User
	var verified sql.NullTime
	err := r.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.VerificationCode, &u.VerifyAttempts, &verified, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.VerifiedAt = timePtr(verified)
	return &u, nil
}

func (r *UserRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET verified_at = $1, verification_code = '', verify_attempts = 0 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// RecordFailedVerify increments the counter only while it is below limit.
func (r *UserRepository) RecordFailedVerify(ctx context.Context, id string, limit int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET verify_attempts = verify_attempts + 1 WHERE id = $1 AND verify_attempts < $2`, id, limit)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrTooManyAttempts
	}
	return nil
}

type SessionRepository struct{ db *sql.DB }

func NewSessionRepository(db *sql.DB) *SessionRepository { return &SessionRepository{db: db} }

func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, email, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5)`, s.ID, s.UserID, s.Email, s.ExpiresAt.UTC(), s.CreatedAt.UTC())
	return err
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*auth.Session, error) {
	var s auth.Session
	err := r.db.QueryRowContext(ctx, `
SELECT id, user_id, email, expires_at, created_at
FROM sessions WHERE id = $1`, id).Scan(&s.ID, &s.UserID, &s.Email, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var (
	_ auth.UserRepository    = (*UserRepository)(nil)
	_ auth.SessionRepository = (*SessionRepository)(nil)
)

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bryanwahyu/snapsense/internal/domain/auth"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository { return &UserRepository{db: db} }

func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	const q = `
INSERT INTO users (id, email, password_hash, verification_code, verified_at, created_at)
VALUES (?,?,?,?,?,?)`

	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.Email, u.PasswordHash, u.VerificationCode, nullTime(u.VerifiedAt), u.CreatedAt.UTC(),
	)
	if isDuplicate(err) {
		return auth.ErrUserExists
	}
	return err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	const q = `
SELECT id, email, password_hash, verification_code, verify_attempts, verified_at, created_at
FROM users WHERE email = ? LIMIT 1`

	var u auth.User
	var verified sql.NullTime
	err := r.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.VerificationCode, &u.VerifyAttempts, &verified, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.VerifiedAt = timePtr(verified)
	return &u, nil
}

// MarkVerified clears the one-time code.
func (r *UserRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE users SET verified_at = ?, verification_code = '', verify_attempts = 0 WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// RecordFailedVerify increments the counter only while it is below limit, so
// concurrent wrong guesses cannot push past the cap.
func (r *UserRepository) RecordFailedVerify(ctx context.Context, id string, limit int) error {
	const q = `
UPDATE users SET verify_attempts = verify_attempts + 1
WHERE id = ? AND verify_attempts < ?`
	res, err := r.db.ExecContext(ctx, q, id, limit)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrTooManyAttempts
	}
	return nil
}

var _ auth.UserRepository = (*UserRepository)(nil)

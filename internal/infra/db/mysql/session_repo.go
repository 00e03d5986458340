package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bryanwahyu/snapsense/internal/domain/auth"
)

// SessionRepository stores sessions without their token; the token is derived from the id.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository { return &SessionRepository{db: db} }

func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	const q = `
INSERT INTO sessions (id, user_id, email, expires_at, created_at)
VALUES (?,?,?,?,?)`
	_, err := r.db.ExecContext(ctx, q, s.ID, s.UserID, s.Email, s.ExpiresAt.UTC(), s.CreatedAt.UTC())
	return err
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*auth.Session, error) {
	const q = `
SELECT id, user_id, email, expires_at, created_at
FROM sessions WHERE id = ? LIMIT 1`

	var s auth.Session
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.UserID, &s.Email, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ auth.SessionRepository = (*SessionRepository)(nil)

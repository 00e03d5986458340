package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/bryanwahyu/snapsense/internal/domain/failures"
)

type FailureRepository struct{ db *sql.DB }

func NewFailureRepository(db *sql.DB) *FailureRepository { return &FailureRepository{db: db} }

func (r *FailureRepository) Save(ctx context.Context, e *failures.Entry) error {
	const q = `
INSERT INTO submission_failures
  (owner, record_id, stage, message, object_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return r.db.QueryRowContext(ctx, q,
		stringOrDash(e.Owner), e.RecordID, stringOrDash(string(e.Stage)), stringOrDash(e.Message), e.ObjectKey, created.UTC(),
	).Scan(&e.ID)
}

func (r *FailureRepository) ListOrphans(ctx context.Context, olderThan time.Time, limit int) ([]*failures.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, owner, record_id, stage, message, object_key, created_at, resolved_at
FROM submission_failures
WHERE stage = $1 AND object_key <> '' AND resolved_at IS NULL AND created_at < $2
ORDER BY created_at ASC, id ASC
LIMIT $3`

	rows, err := r.db.QueryContext(ctx, q, failures.StageRecordCreate, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*failures.Entry
	for rows.Next() {
		var e failures.Entry
		var resolved sql.NullTime
		if err := rows.Scan(&e.ID, &e.Owner, &e.RecordID, &e.Stage, &e.Message, &e.ObjectKey, &e.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		e.ResolvedAt = timePtr(resolved)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *FailureRepository) Resolve(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submission_failures SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`,
		at.UTC(), id)
	return err
}

var _ failures.Repository = (*FailureRepository)(nil)

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
)

type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

const analysisColumns = `id, owner, image_url, image_key, status, analysis, created_at, updated_at`

// Insert lets the database assign the id.
func (r *AnalysisRepository) Insert(ctx context.Context, rec *analysis.Record) (*analysis.Record, error) {
	const q = `
INSERT INTO analysis_records
  (owner, image_url, image_key, status, analysis, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id`

	out := *rec
	out.Owner = stringOrDash(rec.Owner)
	if out.Status == "" {
		out.Status = analysis.StatusProcessing
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}

	err := r.db.QueryRowContext(ctx, q,
		out.Owner, out.ImageURL, out.ImageKey, out.Status, out.AnalysisText,
		out.CreatedAt.UTC(), out.UpdatedAt.UTC(),
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("insert analysis record: %w", err)
	}
	return &out, nil
}

func (r *AnalysisRepository) Complete(ctx context.Context, id analysis.RecordID, status analysis.Status, text string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete with non-terminal status %q", status)
	}
	const q = `
UPDATE analysis_records
SET status = $1, analysis = $2, updated_at = $3
WHERE id = $4 AND status = 'processing'`

	res, err := r.db.ExecContext(ctx, q, status, text, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete analysis record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return analysis.ErrNotProcessing
	}
	return nil
}

func (r *AnalysisRepository) Get(ctx context.Context, owner string, id analysis.RecordID) (*analysis.Record, error) {
	const q = `SELECT ` + analysisColumns + `
FROM analysis_records
WHERE owner = $1 AND id::text = $2
LIMIT 1`

	var rec analysis.Record
	err := r.db.QueryRowContext(ctx, q, owner, id).Scan(
		&rec.ID, &rec.Owner, &rec.ImageURL, &rec.ImageKey, &rec.Status, &rec.AnalysisText,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analysis.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *AnalysisRepository) Find(ctx context.Context, q analysis.Query) ([]*analysis.Record, error) {
	if strings.TrimSpace(q.Owner) == "" {
		return nil, errors.New("find: owner is required")
	}
	var a args
	query := `SELECT ` + analysisColumns + `
FROM analysis_records
WHERE owner = ` + a.add(q.Owner)

	if q.Search != "" {
		query += " AND analysis ILIKE " + a.add("%"+escapeLikePattern(q.Search)+"%")
	}
	if !q.From.IsZero() {
		query += " AND created_at >= " + a.add(q.From.UTC())
	}
	if !q.To.IsZero() {
		query += " AND created_at <= " + a.add(q.To.UTC())
	}
	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	query += fmt.Sprintf("\nORDER BY created_at %s, id %s\nLIMIT %s", dir, dir, a.add(q.EffectiveLimit()))

	rows, err := r.db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("find analysis records: %w", err)
	}
	defer rows.Close()

	out := make([]*analysis.Record, 0)
	for rows.Next() {
		var rec analysis.Record
		if err := rows.Scan(
			&rec.ID, &rec.Owner, &rec.ImageURL, &rec.ImageKey, &rec.Status, &rec.AnalysisText,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

var _ analysis.Repository = (*AnalysisRepository)(nil)

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

const analysisColumns = `id, owner, image_url, image_key, status, analysis, created_at, updated_at`

// Insert generates the id here since MySQL has no RETURNING.
func (r *AnalysisRepository) Insert(ctx context.Context, rec *analysis.Record) (*analysis.Record, error) {
	const q = `
INSERT INTO analysis_records
(id, owner, image_url, image_key, status, analysis, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)`

	out := *rec
	out.ID = analysis.RecordID(uuid.NewString())
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

	_, err := r.db.ExecContext(ctx, q,
		out.ID, out.Owner, out.ImageURL, out.ImageKey, out.Status, out.AnalysisText,
		out.CreatedAt.UTC(), out.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert analysis record: %w", err)
	}
	return &out, nil
}

// Complete only touches rows still in processing, so status never goes backwards.
func (r *AnalysisRepository) Complete(ctx context.Context, id analysis.RecordID, status analysis.Status, text string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete with non-terminal status %q", status)
	}
	const q = `
UPDATE analysis_records
SET status = ?, analysis = ?, updated_at = ?
WHERE id = ? AND status = 'processing'`

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
WHERE owner = ? AND id = ? LIMIT 1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, owner, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, analysis.ErrNotFound
	}
	return rec, err
}

// Find runs one bounded, owner-scoped query.
func (r *AnalysisRepository) Find(ctx context.Context, q analysis.Query) ([]*analysis.Record, error) {
	if strings.TrimSpace(q.Owner) == "" {
		return nil, errors.New("find: owner is required")
	}
	query := `SELECT ` + analysisColumns + `
FROM analysis_records
WHERE owner = ?`
	args := []any{q.Owner}

	if q.Search != "" {
		query += " AND LOWER(analysis) LIKE ?"
		args = append(args, "%"+escapeLikePattern(strings.ToLower(q.Search))+"%")
	}
	if !q.From.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, q.To.UTC())
	}
	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	query += fmt.Sprintf("\nORDER BY created_at %s, id %s\nLIMIT ?", dir, dir)
	args = append(args, q.EffectiveLimit())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find analysis records: %w", err)
	}
	defer rows.Close()

	out := make([]*analysis.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*analysis.Record, error) {
	var rec analysis.Record
	if err := s.Scan(
		&rec.ID, &rec.Owner, &rec.ImageURL, &rec.ImageKey, &rec.Status, &rec.AnalysisText,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ analysis.Repository = (*AnalysisRepository)(nil)

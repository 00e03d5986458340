package analysis

import (
	"context"
	"time"
)

// Repository port (persistence untuk AnalysisRecord)
type Repository interface {
	// Insert stores a new record and returns it with the store-assigned ID.
	Insert(ctx context.Context, r *Record) (*Record, error)
	// Complete moves a processing record to a terminal status.
	// Returns ErrNotProcessing when the record already left processing.
	Complete(ctx context.Context, id RecordID, status Status, text string) error
	Get(ctx context.Context, owner string, id RecordID) (*Record, error)
	Find(ctx context.Context, q Query) ([]*Record, error)
}

// ImageStore port (object storage untuk gambar)
type ImageStore interface {
	// Upload writes data under key without overwriting and returns the public URL.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PublicURL(key string) string
	// ShareURL returns a time-limited URL for key.
	ShareURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Check(ctx context.Context) error
}

package failures

import (
	"context"
	"time"
)

// Repository defines persistence for submission failures
type Repository interface {
	Save(ctx context.Context, e *Entry) error
	// ListOrphans returns unresolved record-create failures created before olderThan.
	ListOrphans(ctx context.Context, olderThan time.Time, limit int) ([]*Entry, error)
	Resolve(ctx context.Context, id int64, at time.Time) error
}

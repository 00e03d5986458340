// Package storage implements analysis.ImageStore on MinIO and S3.
package storage

import (
	"context"
	"fmt"

	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
)

const (
	DriverMinio = "minio"
	DriverS3    = "s3"
)

// Options are shared by both drivers. Endpoint is host:port for MinIO and a
// full base URL for S3-compatible services (empty means AWS).
type Options struct {
	Driver        string
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// Open builds the store for opts.Driver.
func Open(ctx context.Context, opts Options) (analysis.ImageStore, error) {
	switch opts.Driver {
	case "", DriverMinio:
		return NewMinio(ctx, opts)
	case DriverS3:
		return NewS3(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

package ai

import "context"

// Client describes or answers an image. Single request/response, no streaming.
type Client interface {
	Describe(ctx context.Context, image []byte, contentType string) (string, error)
}

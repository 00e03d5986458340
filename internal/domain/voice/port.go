package voice

import "context"

// Recognizer turns recorded audio into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, filename string) (string, error)
}

package openai

import (
	"bytes"
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Transcriber implements voice.Recognizer with Whisper.
type Transcriber struct {
	*openai.Client
	Language string
}

func NewTranscriber(c *Client, language string) *Transcriber {
	return &Transcriber{Client: c.Client, Language: language}
}

func (t *Transcriber) Recognize(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "command.m4a"
	}
	resp, err := t.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: filename,
		Language: t.Language,
	})
	if err != nil {
		return "", mapError("failed to transcribe audio", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

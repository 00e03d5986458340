// Package voice maps recognized speech onto app commands.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/snapsense/internal/domain/voice"
)

type Command string

const (
	CommandCapture Command = "capture"
	CommandResults Command = "results"
	CommandUnknown Command = "unknown"
)

var ErrNoAudio = errors.New("no audio")

// DefaultKeywords is used when the service is built without keywords.
var DefaultKeywords = map[Command][]string{
	CommandCapture: {"take picture", "take photo", "capture", "snap", "photo"},
	CommandResults: {"show results", "results", "history", "gallery"},
}

// Result is a recognized utterance and the command it maps to.
type Result struct {
	Transcript string  `json:"transcript"`
	Command    Command `json:"command"`
}

type Service struct {
	Recognizer domain.Recognizer
	Keywords   map[Command][]string
}

// Handle recognizes audio and interprets the transcript.
func (s *Service) Handle(ctx context.Context, audio []byte, filename string) (Result, error) {
	if len(audio) == 0 {
		return Result{}, ErrNoAudio
	}
	text, err := s.Recognizer.Recognize(ctx, audio, filename)
	if err != nil {
		return Result{}, fmt.Errorf("recognize: %w", err)
	}
	return Result{Transcript: text, Command: s.Interpret(text)}, nil
}

// Interpret picks the command whose keyword appears in the transcript.
// Capture wins when both match.
func (s *Service) Interpret(transcript string) Command {
	kw := s.Keywords
	if len(kw) == 0 {
		kw = DefaultKeywords
	}
	t := strings.ToLower(transcript)
	for _, c := range []Command{CommandCapture, CommandResults} {
		for _, k := range kw[c] {
			if k != "" && strings.Contains(t, strings.ToLower(k)) {
				return c
			}
		}
	}
	return CommandUnknown
}

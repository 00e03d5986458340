package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	text string
	err  error
}

func (f fakeRecognizer) Recognize(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

func TestInterpret(t *testing.T) {
	svc := &Service{}
	tests := []struct {
		in   string
		want Command
	}{
		{"Take Photo please", CommandCapture},
		{"snap it", CommandCapture},
		{"show results", CommandResults},
		{"open my history", CommandResults},
		{"what's the weather", CommandUnknown},
		{"", CommandUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Interpret(tt.in))
		})
	}
}

func TestInterpret_CustomKeywords(t *testing.T) {
	svc := &Service{Keywords: map[Command][]string{
		CommandCapture: {"foto"},
		CommandResults: {"hasil"},
	}}
	assert.Equal(t, CommandCapture, svc.Interpret("ambil FOTO"))
	assert.Equal(t, CommandResults, svc.Interpret("lihat hasil"))
	assert.Equal(t, CommandUnknown, svc.Interpret("take photo"))
}

func TestHandle(t *testing.T) {
	svc := &Service{Recognizer: fakeRecognizer{text: "Take picture"}}
	res, err := svc.Handle(context.Background(), []byte("wav"), "a.m4a")
	require.NoError(t, err)
	assert.Equal(t, Result{Transcript: "Take picture", Command: CommandCapture}, res)

	_, err = svc.Handle(context.Background(), nil, "a.m4a")
	assert.ErrorIs(t, err, ErrNoAudio)

	boom := errors.New("boom")
	svc.Recognizer = fakeRecognizer{err: boom}
	_, err = svc.Handle(context.Background(), []byte("wav"), "a.m4a")
	assert.ErrorIs(t, err, boom)
}

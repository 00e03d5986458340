package analysis

import (
	"time"
)

// RecordID tipe untuk AnalysisRecord
type RecordID string

// Status enum
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

const (
	// PlaceholderText is stored while the model is still working.
	PlaceholderText = "Processing image..."
	// FailureText is stored when the analysis could not be produced.
	FailureText = "Failed to analyze image"
	// AnonymousOwner marks records submitted without a session.
	AnonymousOwner = "-"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusSuccess, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Record is one submitted image and its outcome.
// Owner, ImageURL, ImageKey and CreatedAt never change after insert.
type Record struct {
	ID           RecordID  `json:"id"`
	Owner        string    `json:"owner"`
	ImageURL     string    `json:"image_url"`
	ImageKey     string    `json:"image_key"`
	Status       Status    `json:"status"`
	AnalysisText string    `json:"analysis"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

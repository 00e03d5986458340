package submission

import (
	"errors"
	"fmt"

	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	"github.com/bryanwahyu/snapsense/internal/domain/failures"
)

var (
	// ErrBusy is returned when a submission is already in flight on the instance.
	ErrBusy = errors.New("submission already in progress")
	// ErrSubmissionFailed is the generic failure signal every stage error matches.
	ErrSubmissionFailed = errors.New("submission failed")
)

// StageError wraps the cause of a failed submission with the stage it failed in.
// RecordID is set when the failure happened after the record was created.
type StageError struct {
	Stage    failures.Stage
	RecordID analysis.RecordID
	Err      error
}

func (e *StageError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("submission failed at %s (record %s): %v", e.Stage, e.RecordID, e.Err)
	}
	return fmt.Sprintf("submission failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == ErrSubmissionFailed }

// Recorded reports whether an AnalysisRecord exists for the failed submission.
func (e *StageError) Recorded() bool { return e.RecordID != "" }

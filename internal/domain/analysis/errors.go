package analysis

import "errors"

var (
	ErrNotFound      = errors.New("analysis record not found")
	ErrNotProcessing = errors.New("analysis record is not processing")
	ErrObjectExists  = errors.New("object already exists")
	ErrObjectMissing = errors.New("object not found")
)

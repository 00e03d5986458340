package failures

import "time"

// Stage names the pipeline step that failed.
type Stage string

const (
	StageNormalize    Stage = "normalize"
	StageUpload       Stage = "upload"
	StageRecordCreate Stage = "record-create"
	StageInference    Stage = "inference"
	StageRecordUpdate Stage = "record-update"
)

// Entry represents a persisted submission failure.
// ObjectKey is set when an uploaded object may have been left without a record.
type Entry struct {
	ID         int64      `json:"id"`
	Owner      string     `json:"owner"`
	RecordID   string     `json:"record_id,omitempty"`
	Stage      Stage      `json:"stage"`
	Message    string     `json:"message"`
	ObjectKey  string     `json:"object_key,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Orphaned reports whether the entry points at an object with no record.
func (e *Entry) Orphaned() bool {
	return e.Stage == StageRecordCreate && e.ObjectKey != "" && e.ResolvedAt == nil
}

package submission

// State of a pipeline instance. Idle is both initial and terminal.
type State int32

const (
	StateIdle State = iota
	StateNormalizing
	StateUploading
	StateRecordCreated
	StateInferring
	StateRecordUpdated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNormalizing:
		return "normalizing"
	case StateUploading:
		return "uploading"
	case StateRecordCreated:
		return "record_created"
	case StateInferring:
		return "inferring"
	case StateRecordUpdated:
		return "record_updated"
	default:
		return "unknown"
	}
}

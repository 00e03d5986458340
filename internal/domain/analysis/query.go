package analysis

import "time"

// Query is a single bounded read against the record table. Owner is mandatory.
// A zero From/To means unbounded on that side. A non-empty Search is matched
// case-insensitively as a substring of the analysis text.
type Query struct {
	Owner     string
	From      time.Time
	To        time.Time
	Search    string
	Ascending bool
	Limit     int
}

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// EffectiveLimit clamps Limit into (0, MaxLimit].
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	if q.Limit > MaxLimit {
		return MaxLimit
	}
	return q.Limit
}

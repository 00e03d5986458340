package results

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
)

// Window is a named relative date range, or Custom for an explicit [start,end].
type Window string

const (
	Window3h     Window = "3h"
	Window24h    Window = "24h"
	Window7d     Window = "7d"
	WindowAll    Window = "all"
	WindowCustom Window = "custom"
)

// SortOrder on createdAt.
type SortOrder string

const (
	SortLatest SortOrder = "latest"
	SortOldest SortOrder = "oldest"
)

var (
	ErrInvalidRange  = errors.New("custom range start is after end")
	ErrInvalidWindow = errors.New("unknown time window")
	ErrInvalidSort   = errors.New("unknown sort order")
	ErrOwnerRequired = errors.New("owner is required")
)

// ParseWindow accepts the wire names of the windows. Empty means the default.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case "":
		return Window3h, nil
	case Window3h, Window24h, Window7d, WindowAll, WindowCustom:
		return w, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWindow, s)
}

func ParseSort(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return SortLatest, nil
	case SortLatest, SortOldest:
		return o, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSort, s)
}

// Span returns how far back the window reaches. All and Custom return 0.
func (w Window) Span() time.Duration {
	switch w {
	case Window3h:
		return 3 * time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Selection is what the results browser asks for. Exactly one of the named
// windows or the custom range is active; the With* methods keep that true.
type Selection struct {
	Window Window
	Sort   SortOrder
	Start  time.Time
	End    time.Time
	Search string
}

// DefaultSelection is the last 3 hours, latest first.
func DefaultSelection() Selection {
	return Selection{Window: Window3h, Sort: SortLatest}
}

// WithWindow switches to a named window and clears any custom range.
func (s Selection) WithWindow(w Window) Selection {
	s.Window = w
	s.Start, s.End = time.Time{}, time.Time{}
	return s
}

// WithRange activates the custom range.
func (s Selection) WithRange(start, end time.Time) Selection {
	s.Window = WindowCustom
	s.Start, s.End = start, end
	return s
}

func (s Selection) WithSort(o SortOrder) Selection {
	s.Sort = o
	return s
}

func (s Selection) WithSearch(q string) Selection {
	s.Search = q
	return s
}

// Searching reports whether the free-text search overrides window and sort.
func (s Selection) Searching() bool {
	return strings.TrimSpace(s.Search) != ""
}

func (s Selection) Validate() error {
	if s.Searching() {
		return nil
	}
	if _, err := ParseWindow(string(s.Window)); err != nil {
		return err
	}
	if _, err := ParseSort(string(s.Sort)); err != nil {
		return err
	}
	if s.Window == WindowCustom {
		if s.Start.IsZero() || s.End.IsZero() || s.Start.After(s.End) {
			return ErrInvalidRange
		}
	}
	return nil
}

// Build turns a selection into one bounded query for owner at time now.
func Build(now time.Time, owner string, sel Selection, limit int) (analysis.Query, error) {
	if strings.TrimSpace(owner) == "" {
		return analysis.Query{}, ErrOwnerRequired
	}
	if err := sel.Validate(); err != nil {
		return analysis.Query{}, err
	}

	q := analysis.Query{Owner: owner, Limit: limit}
	q.Limit = q.EffectiveLimit()

	// search and time filtering are never combined
	if sel.Searching() {
		q.Search = strings.TrimSpace(sel.Search)
		return q, nil
	}

	w, _ := ParseWindow(string(sel.Window))
	switch w {
	case WindowCustom:
		q.From, q.To = sel.Start, sel.End
	case WindowAll:
	default:
		q.From = now.Add(-w.Span())
	}

	o, _ := ParseSort(string(sel.Sort))
	q.Ascending = o == SortOldest
	return q, nil
}

// Package results serves the owner-scoped history of analysis records.
package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/snapsense/internal/application"
	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
)

const DefaultShareTTL = 24 * time.Hour

// Service answers results browser queries.
type Service struct {
	Repo     analysis.Repository
	Images   analysis.ImageStore
	Clock    application.Clock
	PageSize int
	ShareTTL time.Duration
}

// Page is one capped result list. There is no continuation token.
type Page struct {
	Records   []*analysis.Record `json:"records"`
	Window    Window             `json:"window"`
	Sort      SortOrder          `json:"sort"`
	Search    string             `json:"search,omitempty"`
	Limit     int                `json:"limit"`
	Truncated bool               `json:"truncated"`
}

// Shared is what the share action hands to the client.
type Shared struct {
	ID        analysis.RecordID `json:"id"`
	ImageURL  string            `json:"image_url"`
	Text      string            `json:"text"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Adjacent holds the neighbours of a record inside a page.
type Adjacent struct {
	Previous analysis.RecordID `json:"previous,omitempty"`
	Next     analysis.RecordID `json:"next,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// Fetch runs the selection for owner with the configured page size.
func (s *Service) Fetch(ctx context.Context, owner string, sel Selection) (Page, error) {
	return s.FetchLimit(ctx, owner, sel, 0)
}

// FetchLimit is Fetch with a per-call cap; 0 falls back to PageSize.
func (s *Service) FetchLimit(ctx context.Context, owner string, sel Selection, limit int) (Page, error) {
	if limit <= 0 {
		limit = s.PageSize
	}
	q, err := Build(s.now(), owner, sel, limit)
	if err != nil {
		return Page{}, err
	}
	recs, err := s.Repo.Find(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("find records: %w", err)
	}

	p := Page{
		Records:   recs,
		Limit:     q.Limit,
		Truncated: len(recs) >= q.Limit,
	}
	if recs == nil {
		p.Records = []*analysis.Record{}
	}
	if q.Search != "" {
		p.Search = q.Search
		p.Sort = SortLatest
	} else {
		p.Window = sel.Window
		p.Sort = SortLatest
		if q.Ascending {
			p.Sort = SortOldest
		}
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, owner string, id analysis.RecordID) (*analysis.Record, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	return s.Repo.Get(ctx, owner, id)
}

// Share returns a time-limited image link together with the analysis text.
func (s *Service) Share(ctx context.Context, owner string, id analysis.RecordID) (Shared, error) {
	rec, err := s.Get(ctx, owner, id)
	if err != nil {
		return Shared{}, err
	}

	ttl := s.ShareTTL
	if ttl <= 0 {
		ttl = DefaultShareTTL
	}
	url := rec.ImageURL
	if rec.ImageKey != "" && s.Images != nil {
		signed, err := s.Images.ShareURL(ctx, rec.ImageKey, ttl)
		if err != nil && !errors.Is(err, analysis.ErrObjectMissing) {
			return Shared{}, fmt.Errorf("share url: %w", err)
		}
		if err == nil {
			url = signed
		}
	}
	return Shared{
		ID:        rec.ID,
		ImageURL:  url,
		Text:      rec.AnalysisText,
		ExpiresAt: s.now().Add(ttl),
	}, nil
}

// Neighbors locates id in the page for sel and returns the records around it.
func (s *Service) Neighbors(ctx context.Context, owner string, sel Selection, id analysis.RecordID) (Adjacent, error) {
	page, err := s.Fetch(ctx, owner, sel)
	if err != nil {
		return Adjacent{}, err
	}
	for i, r := range page.Records {
		if r.ID != id {
			continue
		}
		var adj Adjacent
		if i > 0 {
			adj.Previous = page.Records[i-1].ID
		}
		if i+1 < len(page.Records) {
			adj.Next = page.Records[i+1].ID
		}
		return adj, nil
	}
	return Adjacent{}, analysis.ErrNotFound
}

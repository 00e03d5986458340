package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	"github.com/bryanwahyu/snapsense/internal/domain/failures"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeNormalizer struct{ err error }

func (f fakeNormalizer) Normalize(data []byte) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return append([]byte("jpeg:"), data...), "image/jpeg", nil
}

type fakeStore struct {
	mu      sync.Mutex
	err     error
	uploads map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{uploads: map[string][]byte{}} }

func (s *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if _, ok := s.uploads[key]; ok {
		return "", analysis.ErrObjectExists
	}
	s.uploads[key] = data
	return s.PublicURL(key), nil
}
func (s *fakeStore) PublicURL(key string) string { return "https://store/" + key }
func (s *fakeStore) ShareURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return s.PublicURL(key) + "?signed", nil
}
func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, key)
	return nil
}
func (s *fakeStore) Check(context.Context) error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

type fakeRecords struct {
	mu          sync.Mutex
	seq         int
	rows        map[analysis.RecordID]*analysis.Record
	insertErr   error
	successErr  error
	errorErr    error
	completions int
}

func newFakeRecords() *fakeRecords { return &fakeRecords{rows: map[analysis.RecordID]*analysis.Record{}} }

func (r *fakeRecords) Insert(_ context.Context, rec *analysis.Record) (*analysis.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	r.seq++
	cp := *rec
	cp.ID = analysis.RecordID(fmt.Sprintf("r%d", r.seq))
	r.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRecords) Complete(_ context.Context, id analysis.RecordID, status analysis.Status, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status == analysis.StatusSuccess && r.successErr != nil {
		return r.successErr
	}
	if status == analysis.StatusError && r.errorErr != nil {
		return r.errorErr
	}
	row, ok := r.rows[id]
	if !ok {
		return analysis.ErrNotFound
	}
	if row.Status != analysis.StatusProcessing {
		return analysis.ErrNotProcessing
	}
	row.Status = status
	row.AnalysisText = text
	r.completions++
	return nil
}

func (r *fakeRecords) Get(_ context.Context, owner string, id analysis.RecordID) (*analysis.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Owner != owner {
		return nil, analysis.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *fakeRecords) Find(context.Context, analysis.Query) ([]*analysis.Record, error) {
	return nil, errors.New("not used")
}

func (r *fakeRecords) all() []analysis.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]analysis.Record, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, *row)
	}
	return out
}

type fakeAI struct {
	text    string
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeAI) Describe(ctx context.Context, _ []byte, _ string) (string, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.text, f.err
}

type fakeFailures struct {
	mu      sync.Mutex
	entries []*failures.Entry
	err     error
}

func (f *fakeFailures) Save(_ context.Context, e *failures.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeFailures) ListOrphans(context.Context, time.Time, int) ([]*failures.Entry, error) {
	return nil, nil
}
func (f *fakeFailures) Resolve(context.Context, int64, time.Time) error { return nil }

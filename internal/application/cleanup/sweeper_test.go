package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	"github.com/bryanwahyu/snapsense/internal/domain/failures"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeFailures struct {
	entries   []*failures.Entry
	olderThan time.Time
	limit     int
	resolved  []int64
	listErr   error
}

func (f *fakeFailures) Save(context.Context, *failures.Entry) error { return nil }

func (f *fakeFailures) ListOrphans(_ context.Context, olderThan time.Time, limit int) ([]*failures.Entry, error) {
	f.olderThan, f.limit = olderThan, limit
	return f.entries, f.listErr
}

func (f *fakeFailures) Resolve(_ context.Context, id int64, _ time.Time) error {
	f.resolved = append(f.resolved, id)
	return nil
}

type fakeImages struct {
	errs    map[string]error
	deleted []string
}

func (f *fakeImages) Upload(context.Context, string, []byte, string) (string, error) { return "", nil }
func (f *fakeImages) PublicURL(string) string                                        { return "" }
func (f *fakeImages) ShareURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (f *fakeImages) Delete(_ context.Context, key string) error {
	if err := f.errs[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}
func (f *fakeImages) Check(context.Context) error { return nil }

func orphan(id int64, key string) *failures.Entry {
	return &failures.Entry{ID: id, Stage: failures.StageRecordCreate, ObjectKey: key}
}

func TestSweep(t *testing.T) {
	fr := &fakeFailures{entries: []*failures.Entry{
		orphan(1, "images/u1/a.jpg"),
		orphan(2, "images/u1/gone.jpg"),
		orphan(3, "images/u1/stuck.jpg"),
		{ID: 4, Stage: failures.StageInference},
	}}
	imgs := &fakeImages{errs: map[string]error{
		"images/u1/gone.jpg":  analysis.ErrObjectMissing,
		"images/u1/stuck.jpg": errors.New("permission denied"),
	}}
	sw := &Sweeper{Failures: fr, Images: imgs, Clock: fixedClock{t: now}, OrphanAge: time.Hour}

	rep, err := sw.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Scanned: 3, Deleted: 2, Failures: 1}, rep)
	assert.Equal(t, []string{"images/u1/a.jpg"}, imgs.deleted)
	assert.Equal(t, []int64{1, 2}, fr.resolved)
	assert.Equal(t, now.Add(-time.Hour), fr.olderThan)
	assert.Equal(t, DefaultBatch, fr.limit)
}

func TestSweep_ListError(t *testing.T) {
	fr := &fakeFailures{listErr: errors.New("db down")}
	sw := &Sweeper{Failures: fr, Images: &fakeImages{}, Clock: fixedClock{t: now}}

	_, err := sw.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, now.Add(-DefaultOrphanAge), fr.olderThan)
}

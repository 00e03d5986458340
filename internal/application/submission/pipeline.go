// Package submission coordinates one image submission end to end:
// normalize -> upload -> create record -> infer -> update record.
package submission

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/snapsense/internal/application"
	"github.com/bryanwahyu/snapsense/internal/domain/ai"
	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	"github.com/bryanwahyu/snapsense/internal/domain/failures"
	"github.com/bryanwahyu/snapsense/internal/logging"
)

// Normalizer bounds an image before upload and inference.
type Normalizer interface {
	Normalize(data []byte) ([]byte, string, error)
}

// Deps are the collaborators shared by every pipeline instance.
// Failures and Observer are optional.
type Deps struct {
	Images     analysis.ImageStore
	Records    analysis.Repository
	Inference  ai.Client
	Normalizer Normalizer
	Failures   failures.Repository
	Clock      application.Clock
	Logger     logging.Logger
	Observer   func(owner string, s State)
}

// Image is the local image handle handed in by the caller.
type Image struct {
	Data        []byte
	ContentType string
	Name        string
}

// Outcome of a settled submission. Record is nil for pre-record failures.
type Outcome struct {
	Record   *analysis.Record `json:"record,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// Pipeline runs at most one submission at a time for a single owner.
// It is safe for concurrent use; overlapping Submit calls get ErrBusy.
type Pipeline struct {
	deps  Deps
	owner string
	busy  atomic.Bool
	state atomic.Int32
	// unix nanoseconds of the last For or Submit
	lastUsed atomic.Int64
}

func New(owner string, deps Deps) *Pipeline {
	if strings.TrimSpace(owner) == "" {
		owner = analysis.AnonymousOwner
	}
	if deps.Clock == nil {
		deps.Clock = application.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	p := &Pipeline{deps: deps, owner: owner}
	p.touch()
	return p
}

func (p *Pipeline) Owner() string { return p.owner }

func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) IsProcessing() bool { return p.busy.Load() }

// LastUsed is when the instance was last handed out or finished a submission.
func (p *Pipeline) LastUsed() time.Time { return time.Unix(0, p.lastUsed.Load()) }

func (p *Pipeline) touch() { p.lastUsed.Store(p.deps.Clock.Now().UnixNano()) }

// Submit runs the whole pipeline and returns once every step has settled.
// The request context only carries values: cancellation is ignored so a
// created record is never left in processing.
func (p *Pipeline) Submit(ctx context.Context, img Image) (Outcome, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return Outcome{}, ErrBusy
	}
	ctx = context.WithoutCancel(ctx)
	defer func() {
		p.transition(StateIdle)
		p.touch()
		p.busy.Store(false)
	}()

	start := p.deps.Clock.Now()
	log := p.deps.Logger.With("owner", p.owner)

	p.transition(StateNormalizing)
	data, contentType, err := p.deps.Normalizer.Normalize(img.Data)
	if err != nil {
		return Outcome{}, p.fail(ctx, log, &StageError{Stage: failures.StageNormalize, Err: err}, "")
	}

	p.transition(StateUploading)
	key := ObjectKey(p.owner, start)
	url, err := p.deps.Images.Upload(ctx, key, data, contentType)
	if err != nil {
		return Outcome{}, p.fail(ctx, log, &StageError{Stage: failures.StageUpload, Err: err}, "")
	}

	now := p.deps.Clock.Now()
	rec, err := p.deps.Records.Insert(ctx, &analysis.Record{
		Owner:        p.owner,
		ImageURL:     url,
		ImageKey:     key,
		Status:       analysis.StatusProcessing,
		AnalysisText: analysis.PlaceholderText,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		// the uploaded object has no record now; keep its key for the cleanup sweep
		return Outcome{}, p.fail(ctx, log, &StageError{Stage: failures.StageRecordCreate, Err: err}, key)
	}
	p.transition(StateRecordCreated)
	log = log.With("record_id", rec.ID)

	p.transition(StateInferring)
	stage := failures.StageInference
	text, err := p.deps.Inference.Describe(ctx, data, contentType)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = ai.ErrEmptyResponse
		}
	}
	if err == nil {
		if err = p.deps.Records.Complete(ctx, rec.ID, analysis.StatusSuccess, text); err == nil {
			rec.Status = analysis.StatusSuccess
			rec.AnalysisText = text
			rec.UpdatedAt = p.deps.Clock.Now()
			p.transition(StateRecordUpdated)

			d := p.deps.Clock.Now().Sub(start)
			log.Info(ctx, "submission succeeded", "duration_ms", d.Milliseconds(), "image_url", url)
			return Outcome{Record: rec, Duration: d}, nil
		}
		stage = failures.StageRecordUpdate
	}

	// a created record must end in a terminal status
	if uerr := p.deps.Records.Complete(ctx, rec.ID, analysis.StatusError, analysis.FailureText); uerr != nil {
		log.Error(ctx, "could not mark record as failed", "err", uerr)
	} else {
		rec.Status = analysis.StatusError
		rec.AnalysisText = analysis.FailureText
		rec.UpdatedAt = p.deps.Clock.Now()
		p.transition(StateRecordUpdated)
	}

	out := Outcome{Record: rec, Duration: p.deps.Clock.Now().Sub(start)}
	return out, p.fail(ctx, log, &StageError{Stage: stage, RecordID: rec.ID, Err: err}, "")
}

func (p *Pipeline) transition(s State) {
	p.state.Store(int32(s))
	if p.deps.Observer != nil {
		p.deps.Observer(p.owner, s)
	}
}

func (p *Pipeline) fail(ctx context.Context, log logging.Logger, serr *StageError, objectKey string) error {
	log.Error(ctx, "submission failed", "stage", serr.Stage, "err", serr.Err)

	if p.deps.Failures == nil {
		return serr
	}
	entry := &failures.Entry{
		Owner:     p.owner,
		RecordID:  string(serr.RecordID),
		Stage:     serr.Stage,
		Message:   serr.Err.Error(),
		ObjectKey: objectKey,
		CreatedAt: p.deps.Clock.Now(),
	}
	if err := p.deps.Failures.Save(ctx, entry); err != nil {
		log.Warn(ctx, "could not persist submission failure", "err", err)
	}
	return serr
}

// ObjectKey builds a collision-free key: images/<owner>/image_<unix-ms>_<rand>.jpg
func ObjectKey(owner string, at time.Time) string {
	return fmt.Sprintf("images/%s/image_%d_%s.jpg", keySegment(owner), at.UnixMilli(), uuid.NewString()[:8])
}

func keySegment(owner string) string {
	if owner == "" || owner == analysis.AnonymousOwner {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, owner)
}

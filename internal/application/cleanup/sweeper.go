// Package cleanup removes uploaded images that never got a record.
package cleanup

import (
	"context"
	"errors"
	"time"

	"github.com/bryanwahyu/snapsense/internal/application"
	"github.com/bryanwahyu/snapsense/internal/domain/analysis"
	"github.com/bryanwahyu/snapsense/internal/domain/failures"
	"github.com/bryanwahyu/snapsense/internal/logging"
)

const (
	DefaultOrphanAge = 10 * time.Minute
	DefaultBatch     = 100
)

type Sweeper struct {
	Failures  failures.Repository
	Images    analysis.ImageStore
	Clock     application.Clock
	Logger    logging.Logger
	OrphanAge time.Duration
	Batch     int
	// OnReport, if set, receives the report of every scheduled sweep.
	OnReport func(Report)
}

// Report summarizes one sweep.
type Report struct {
	Scanned  int `json:"scanned"`
	Deleted  int `json:"deleted"`
	Failures int `json:"failures"`
}

// Sweep deletes orphaned objects older than OrphanAge and resolves their entries.
// A missing object counts as deleted.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	clock := s.Clock
	if clock == nil {
		clock = application.SystemClock{}
	}
	log := s.Logger
	if log == nil {
		log = logging.Nop()
	}
	age := s.OrphanAge
	if age <= 0 {
		age = DefaultOrphanAge
	}
	batch := s.Batch
	if batch <= 0 {
		batch = DefaultBatch
	}

	entries, err := s.Failures.ListOrphans(ctx, clock.Now().Add(-age), batch)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for _, e := range entries {
		if !e.Orphaned() {
			continue
		}
		rep.Scanned++
		if err := s.Images.Delete(ctx, e.ObjectKey); err != nil && !errors.Is(err, analysis.ErrObjectMissing) {
			rep.Failures++
			log.Warn(ctx, "orphan delete failed", "key", e.ObjectKey, "err", err)
			continue
		}
		if err := s.Failures.Resolve(ctx, e.ID, clock.Now()); err != nil {
			rep.Failures++
			log.Warn(ctx, "orphan resolve failed", "entry_id", e.ID, "err", err)
			continue
		}
		rep.Deleted++
	}
	if rep.Scanned > 0 {
		log.Info(ctx, "orphan sweep finished", "scanned", rep.Scanned, "deleted", rep.Deleted, "failures", rep.Failures)
	}
	return rep, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, err := s.Sweep(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Error(ctx, "orphan sweep", "err", err)
				}
				continue
			}
			if s.OnReport != nil {
				s.OnReport(rep)
			}
		}
	}
}

// Package retry periodically sweeps the delivery store for records whose
// retry time has elapsed and hands them back to the dispatcher.
package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/docsignal/docsignal/internal/dispatch"
	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/metrics"
	"github.com/docsignal/docsignal/internal/store"
	"github.com/docsignal/docsignal/internal/tracing"
)

// Result summarizes one sweep.
type Result struct {
	Processed int // records selected and handed to the dispatcher
	Succeeded int // attempts that ended in delivered
	Failed    int // attempts that ended in retrying or failed
	Skipped   int // records claimed by another actor before we got to them
}

// Config carries the scheduler's tunables.
type Config struct {
	Interval     time.Duration    // time between sweeps
	BatchSize    int              // max records per sweep
	Parallelism  int              // concurrent attempts within a sweep
	PendingGrace time.Duration    // age after which stuck pending records are rescued
	Now          func() time.Time // injected clock; nil uses time.Now
}

// Scheduler runs recurring sweeps. A sweep already in progress causes a newly
// due one to be skipped rather than run concurrently.
type Scheduler struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	logger     *logging.Logger
	cfg        Config
	now        func() time.Time

	sweeping atomic.Bool
}

func NewScheduler(st store.Store, d *dispatch.Dispatcher, logger *logging.Logger, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:      st,
		dispatcher: d,
		logger:     logger,
		cfg:        cfg,
		now:        now,
	}
}

// Run sweeps on a ticker until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, ErrSweepInProgress) {
				s.logger.WithContext(ctx).WithError(err).Error("sweep failed")
			}
			_ = res
		}
	}
}

// ErrSweepInProgress is returned when a sweep is triggered while another is
// still running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Sweep selects due records (oldest due first), plus pending records older
// than the grace period, and attempts each with bounded parallelism. A
// failure on one record never aborts the rest.
func (s *Scheduler) Sweep(ctx context.Context) (Result, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return Result{}, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	ctx, span := tracing.StartSpan(ctx, "retry.sweep")
	defer span.End()

	now := s.now()
	due, err := s.store.ListDueForRetry(ctx, now, s.cfg.BatchSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, err
	}

	// Rescue pending records whose immediate dispatch was lost. Sending and
	// terminal rows are never touched.
	if s.cfg.PendingGrace > 0 && len(due) < s.cfg.BatchSize {
		stale, err := s.store.ListStalePending(ctx, now.Add(-s.cfg.PendingGrace), s.cfg.BatchSize-len(due))
		if err != nil {
			tracing.SetSpanError(ctx, err)
			s.logger.WithContext(ctx).WithError(err).Error("stale pending lookup failed")
		} else {
			due = append(due, stale...)
		}
	}

	var res Result
	res.Processed = len(due)
	if len(due) == 0 {
		metrics.RecordSweep(0, 0, 0)
		return res, nil
	}

	type outcome struct {
		status  store.Status
		skipped bool
	}
	outcomes := make(chan outcome, len(due))
	sem := make(chan struct{}, s.cfg.Parallelism)

	for _, rec := range due {
		rec := rec
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			status, err := s.dispatcher.Attempt(ctx, rec.ID)
			switch {
			case errors.Is(err, dispatch.ErrNotAttempted):
				outcomes <- outcome{skipped: true}
			case err != nil:
				s.logger.WithContext(ctx).WithDelivery(rec.ID).WithError(err).Error("sweep attempt errored")
				outcomes <- outcome{status: store.StatusRetrying}
			default:
				outcomes <- outcome{status: status}
			}
		}()
	}

	for range due {
		o := <-outcomes
		switch {
		case o.skipped:
			res.Skipped++
		case o.status == store.StatusDelivered:
			res.Succeeded++
		default:
			res.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.processed", res.Processed),
		attribute.Int("sweep.succeeded", res.Succeeded),
		attribute.Int("sweep.failed", res.Failed),
		attribute.Int("sweep.skipped", res.Skipped),
	)
	metrics.RecordSweep(res.Succeeded, res.Failed, res.Skipped)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"processed": res.Processed,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
	}).Debug("sweep complete")
	return res, nil
}

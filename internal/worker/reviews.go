// Package worker runs the optimizer's background jobs: due review
// processing on a cron schedule and retention cleanup.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/spend-optimizer/internal/engine"
	"github.com/ignite/spend-optimizer/internal/pkg/distlock"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

// ReviewLockKey guards review processing across worker replicas.
const ReviewLockKey = "reviews:due"

// ReviewProcessor processes every review that has come due.
type ReviewProcessor interface {
	ProcessDueReviews(ctx context.Context) (*engine.DueSummary, error)
}

// ReviewWorker calls ProcessDueReviews on a cron schedule. Only one replica
// runs a pass at a time.
type ReviewWorker struct {
	proc     ReviewProcessor
	locks    distlock.Factory
	schedule string
	cron     *cron.Cron
	log      *logger.Logger

	mu      sync.Mutex
	lastRun time.Time
	last    *engine.DueSummary
}

// NewReviewWorker creates a worker. schedule is a standard five-field cron
// expression.
func NewReviewWorker(proc ReviewProcessor, locks distlock.Factory, schedule string) *ReviewWorker {
	return &ReviewWorker{
		proc:     proc,
		locks:    locks,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		log:      logger.Component("review-worker"),
	}
}

// Start registers the job and blocks until ctx is cancelled. With
// runOnStart a pass runs before the first tick.
func (w *ReviewWorker) Start(ctx context.Context, runOnStart bool) error {
	if _, err := w.cron.AddFunc(w.schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("register review job %q: %w", w.schedule, err)
	}
	w.log.Info("starting", "schedule", w.schedule)
	if runOnStart {
		w.RunOnce(ctx)
	}
	w.cron.Start()

	<-ctx.Done()
	stopped := w.cron.Stop()
	<-stopped.Done()
	w.log.Info("stopped")
	return nil
}

// RunOnce runs a single pass. It returns nil when another replica holds
// the lock.
func (w *ReviewWorker) RunOnce(ctx context.Context) *engine.DueSummary {
	lock := w.locks(ReviewLockKey)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		w.log.Error("lock failed", "error", err.Error())
		return nil
	}
	if !ok {
		w.log.Debug("another worker is processing reviews")
		return nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	start := time.Now()
	sum, err := w.proc.ProcessDueReviews(ctx)
	if err != nil {
		w.log.Error("review pass failed", "error", err.Error())
		return nil
	}
	w.log.Info("review pass done",
		"processed", sum.Processed,
		"completed", sum.Completed,
		"rescheduled", sum.Rescheduled,
		"rolled_back", sum.RolledBack,
		"errors", sum.Errors,
		"took", time.Since(start).Round(time.Millisecond).String())

	w.mu.Lock()
	w.lastRun = start
	w.last = sum
	w.mu.Unlock()
	return sum
}

// Last returns the time and summary of the most recent completed pass.
func (w *ReviewWorker) Last() (time.Time, *engine.DueSummary) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun, w.last
}

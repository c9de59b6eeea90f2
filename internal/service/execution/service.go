package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/performance"
	"github.com/ignite/spend-optimizer/internal/pkg/distlock"
)

// Config tunes batch execution.
type Config struct {
	Concurrency     int            `yaml:"concurrency" json:"concurrency"`
	MutationTimeout time.Duration  `yaml:"mutation_timeout" json:"mutation_timeout"`
	LockTTL         time.Duration  `yaml:"lock_ttl" json:"lock_ttl"`
	BaselineDays    int            `yaml:"baseline_days" json:"baseline_days"`
	AutoRollback    RollbackPolicy `yaml:"auto_rollback" json:"auto_rollback"`
}

// DefaultConfig returns the execution defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		MutationTimeout: 10 * time.Second,
		LockTTL:         15 * time.Minute,
		BaselineDays:    14,
		AutoRollback:    DefaultRollbackPolicy(),
	}
}

// Validate checks the config for values the engine cannot run with.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("execution: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MutationTimeout <= 0 {
		return fmt.Errorf("execution: mutation_timeout must be positive")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("execution: lock_ttl must be positive")
	}
	if c.BaselineDays < 1 {
		return fmt.Errorf("execution: baseline_days must be >= 1, got %d", c.BaselineDays)
	}
	return c.AutoRollback.Validate()
}

// Request is a batch of changes for one scope.
type Request struct {
	ScopeID  string
	Source   domain.BatchSource
	SourceID string
	Items    []domain.ExecutionItem
}

// Service runs execution batches and rollbacks.
type Service struct {
	ledger   Ledger
	batches  BatchRepository
	segments SegmentStore
	mutator  Mutator
	agg      *performance.Aggregator
	locks    distlock.Factory
	observer Observer
	cfg      Config
	now      func() time.Time
}

// NewService creates an execution service.
func NewService(ledger Ledger, batches BatchRepository, segments SegmentStore, mutator Mutator,
	agg *performance.Aggregator, locks distlock.Factory, cfg Config) *Service {
	return &Service{
		ledger:   ledger,
		batches:  batches,
		segments: segments,
		mutator:  mutator,
		agg:      agg,
		locks:    locks,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetObserver attaches a mutation observer.
func (s *Service) SetObserver(o Observer) { s.observer = o }

// Config returns the service config.
func (s *Service) Config() Config { return s.cfg }

// LockKey is the distlock key guarding a scope.
func LockKey(scopeID string) string {
	return "scope:" + scopeID
}

// Execute applies every item of the request. Mutation failures do not stop
// the batch; they are recorded and counted. Cancelling ctx stops the batch
// between items: in-flight mutations finish and the rest are skipped.
func (s *Service) Execute(ctx context.Context, req Request) (*domain.ExecutionSummary, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, it := range req.Items {
		if it.Segment.ScopeID != "" && it.Segment.ScopeID != req.ScopeID {
			return nil, fmt.Errorf("segment %s belongs to scope %s, not %s", it.Segment.ID, it.Segment.ScopeID, req.ScopeID)
		}
	}

	release, err := s.lockScope(ctx, req.ScopeID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Bookkeeping must survive a cancelled caller.
	bg := context.WithoutCancel(ctx)

	now := s.now().UTC()
	baseline, err := s.baseline(ctx, req.Items, now)
	if err != nil {
		return nil, err
	}

	batch := &domain.ExecutionBatch{
		ID:        uuid.New().String(),
		ScopeID:   req.ScopeID,
		Source:    req.Source,
		SourceID:  req.SourceID,
		Status:    domain.BatchPending,
		Total:     len(req.Items),
		Baseline:  baseline,
		CreatedAt: now,
	}
	if err := s.batches.CreateBatch(bg, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	batch.Status = domain.BatchExecuting
	batch.StartedAt = &now
	if err := s.batches.UpdateBatch(bg, batch); err != nil {
		return nil, fmt.Errorf("start batch: %w", err)
	}

	var (
		mu        sync.Mutex
		records   = make([]*domain.ExecutionRecord, len(req.Items))
		succeeded int
		failed    int
		skipped   int
		cancelled bool
	)

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, group := range groupBySegment(req.Items) {
		g.Go(func() error {
			seg := req.Items[group[0]].Segment
			for i, pos := range group {
				if ctx.Err() != nil {
					mu.Lock()
					skipped += len(group) - i
					cancelled = true
					mu.Unlock()
					return nil
				}
				it := req.Items[pos]
				it.Segment = seg
				rec, outcome, err := s.applyItem(bg, batch, it)
				if err != nil {
					return err
				}
				mu.Lock()
				switch outcome {
				case outcomeApplied:
					succeeded++
				case outcomeFailed:
					failed++
				default:
					skipped++
				}
				records[pos] = rec
				mu.Unlock()
				if outcome == outcomeApplied {
					seg = advance(seg, rec.Action, rec.NewValue)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		batch.Status = domain.BatchFailed
		s.finish(bg, batch, succeeded, failed, skipped)
		return nil, err
	}

	switch {
	case cancelled:
		batch.Status = domain.BatchCancelled
	case failed == 0:
		batch.Status = domain.BatchCompleted
	case succeeded == 0:
		batch.Status = domain.BatchFailed
	default:
		batch.Status = domain.BatchPartiallyCompleted
	}
	s.finish(bg, batch, succeeded, failed, skipped)

	log.Printf("[execution.Service] Batch %s (%s) for scope %s: %s, %d applied, %d failed, %d skipped",
		batch.ID, batch.Source, batch.ScopeID, batch.Status, succeeded, failed, skipped)
	summary := &domain.ExecutionSummary{Batch: *batch}
	for _, rec := range records {
		if rec != nil {
			summary.Records = append(summary.Records, *rec)
		}
	}
	return summary, nil
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeApplied
	outcomeFailed
)

// applyItem writes a pending record, calls the mutator, and settles the
// record. A returned error means the ledger itself failed.
func (s *Service) applyItem(ctx context.Context, batch *domain.ExecutionBatch, it domain.ExecutionItem) (*domain.ExecutionRecord, itemOutcome, error) {
	seg := it.Segment
	unit := domain.DefaultUnit(seg.Kind)

	newValue := seg.ControlValue
	if it.Action.SetsValue() {
		newValue = domain.RoundControl(it.NewValue, unit)
		if newValue == seg.ControlValue {
			return nil, outcomeSkipped, nil
		}
	} else if noopState(seg, it.Action) {
		return nil, outcomeSkipped, nil
	}

	rec := &domain.ExecutionRecord{
		ID:            uuid.New().String(),
		BatchID:       batch.ID,
		ScopeID:       batch.ScopeID,
		SegmentID:     seg.ID,
		SegmentKind:   seg.Kind,
		Action:        it.Action,
		PreviousValue: seg.ControlValue,
		NewValue:      newValue,
		ChangePct:     domain.PctChange(seg.ControlValue, newValue),
		Reason:        it.Reason,
		Status:        domain.RecordPending,
		ExecutedAt:    s.now().UTC(),
	}
	if err := s.ledger.AppendRecord(ctx, rec); err != nil {
		return nil, outcomeFailed, fmt.Errorf("append record: %w", err)
	}

	if err := s.mutate(ctx, seg, it.Action, newValue); err != nil {
		rec.Status = domain.RecordFailed
		rec.Error = err.Error()
		if terr := s.ledger.TransitionRecord(ctx, rec.ID, domain.RecordPending, domain.RecordFailed, rec.Error); terr != nil {
			return nil, outcomeFailed, fmt.Errorf("settle record %s: %w", rec.ID, terr)
		}
		log.Printf("[execution.Service] %s on %s failed: %v", it.Action, seg.ID, err)
		return rec, outcomeFailed, nil
	}

	rec.Status = domain.RecordApplied
	if err := s.ledger.TransitionRecord(ctx, rec.ID, domain.RecordPending, domain.RecordApplied, ""); err != nil {
		return nil, outcomeFailed, fmt.Errorf("settle record %s: %w", rec.ID, err)
	}
	next := advance(seg, it.Action, newValue)
	if err := s.segments.UpdateSegmentControl(ctx, seg.ID, next.ControlValue, next.State); err != nil {
		log.Printf("[execution.Service] WARN: applied %s on %s but could not store control value: %v", it.Action, seg.ID, err)
	}
	return rec, outcomeApplied, nil
}

// mutate calls the mutator under the per-item timeout. A mutator that
// outlives the deadline is abandoned and the change reported as
// ErrMutationTimeout; whatever it returns later is only logged, since the
// network may or may not have applied it.
func (s *Service) mutate(ctx context.Context, seg domain.Segment, action domain.ActionType, value float64) error {
	mctx, cancel := context.WithTimeout(ctx, s.cfg.MutationTimeout)
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- s.mutator.Apply(mctx, seg, action, value)
	}()

	var err error
	select {
	case err = <-done:
	case <-mctx.Done():
		select {
		case err = <-done:
		default:
			go func() {
				if late := <-done; late == nil {
					log.Printf("[execution.Service] WARN: %s on %s succeeded after the %s timeout; ledger records it failed",
						action, seg.ID, s.cfg.MutationTimeout)
				}
			}()
			err = fmt.Errorf("%w after %s: %v", ErrMutationTimeout, s.cfg.MutationTimeout, mctx.Err())
		}
	}
	if s.observer != nil {
		s.observer.MutationObserved(action, err == nil, time.Since(start).Seconds())
	}
	return err
}

func (s *Service) lockScope(ctx context.Context, scopeID string) (func(), error) {
	lock := s.locks(LockKey(scopeID))
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire scope lock: %w", err)
	}
	if !ok {
		return nil, ErrScopeConflict
	}
	stopRefresh := distlock.KeepAlive(context.WithoutCancel(ctx), lock, func(err error) {
		log.Printf("[execution.Service] WARN: scope %s lock refresh failed: %v", scopeID, err)
	})
	return func() {
		stopRefresh()
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[execution.Service] WARN: release lock for scope %s: %v", scopeID, err)
		}
	}, nil
}

// baseline snapshots the pre-change performance of the batch's segments.
func (s *Service) baseline(ctx context.Context, items []domain.ExecutionItem, now time.Time) (domain.PerformanceWindow, error) {
	seen := make(map[string]bool, len(items))
	var ids []string
	for _, it := range items {
		if !seen[it.Segment.ID] {
			seen[it.Segment.ID] = true
			ids = append(ids, it.Segment.ID)
		}
	}
	end := now.Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -s.cfg.BaselineDays)
	w, err := s.agg.Total(ctx, ids, start, end)
	if err != nil {
		return domain.PerformanceWindow{}, fmt.Errorf("baseline snapshot: %w", err)
	}
	return w, nil
}

func (s *Service) finish(ctx context.Context, batch *domain.ExecutionBatch, succeeded, failed, skipped int) {
	done := s.now().UTC()
	batch.Succeeded = succeeded
	batch.Failed = failed
	batch.Skipped = skipped
	batch.CompletedAt = &done
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		log.Printf("[execution.Service] ERROR: finish batch %s: %v", batch.ID, err)
	}
}

// GetBatch returns a batch with its records.
func (s *Service) GetBatch(ctx context.Context, id string) (*domain.ExecutionSummary, error) {
	b, err := s.batches.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	recs, err := s.ledger.ListByBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return &domain.ExecutionSummary{Batch: *b, Records: recs}, nil
}

// GetRecord returns one ledger record.
func (s *Service) GetRecord(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	return s.ledger.GetRecord(ctx, id)
}

// ListBatches returns the most recent batches of a scope.
func (s *Service) ListBatches(ctx context.Context, scopeID string, limit int) ([]domain.ExecutionBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.batches.ListBatches(ctx, scopeID, limit)
}

// History returns the ledger of a scope, optionally for a single segment.
func (s *Service) History(ctx context.Context, scopeID, segmentID string) ([]domain.ExecutionRecord, error) {
	return s.ledger.History(ctx, scopeID, segmentID)
}

// groupBySegment splits item positions into per-segment groups, keeping the
// request order within a group and ordering groups by first appearance.
func groupBySegment(items []domain.ExecutionItem) [][]int {
	idx := make(map[string]int)
	var groups [][]int
	for pos, it := range items {
		i, ok := idx[it.Segment.ID]
		if !ok {
			i = len(groups)
			idx[it.Segment.ID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], pos)
	}
	return groups
}

// advance returns the segment as it stands after action was applied.
func advance(seg domain.Segment, action domain.ActionType, value float64) domain.Segment {
	if action.SetsValue() {
		seg.ControlValue = value
		return seg
	}
	if st, ok := stateAfter(action); ok {
		seg.State = st
	}
	return seg
}

// stateAfter maps a state-changing action to the serving state it leaves.
// Negated search terms are archived so they drop out of later runs.
func stateAfter(action domain.ActionType) (domain.SegmentState, bool) {
	switch action {
	case domain.ActionPause:
		return domain.SegmentPaused, true
	case domain.ActionEnable, domain.ActionRemoveNegative:
		return domain.SegmentEnabled, true
	case domain.ActionNegativeExact, domain.ActionNegativePhrase:
		return domain.SegmentArchived, true
	}
	return "", false
}

func noopState(seg domain.Segment, action domain.ActionType) bool {
	st, ok := stateAfter(action)
	return ok && seg.State == st
}

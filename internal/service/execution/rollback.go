package execution

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// RollbackPolicy decides when a tracked change is rolled back without an
// operator. A change qualifies only if the tracker recommends rollback, its
// post-change ROAS is below MaxROAS, and it spent at least MinSpend.
type RollbackPolicy struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	MaxROAS  float64 `yaml:"max_roas" json:"max_roas"`
	MinSpend float64 `yaml:"min_spend" json:"min_spend"`
}

// DefaultRollbackPolicy returns the auto-rollback defaults.
func DefaultRollbackPolicy() RollbackPolicy {
	return RollbackPolicy{Enabled: true, MaxROAS: 2.0, MinSpend: 20}
}

// Validate checks the policy.
func (p RollbackPolicy) Validate() error {
	if p.MaxROAS < 0 || p.MinSpend < 0 {
		return fmt.Errorf("execution: auto_rollback thresholds must be non-negative")
	}
	return nil
}

// ShouldRollback applies the safety rule to a tracking report.
func (p RollbackPolicy) ShouldRollback(r domain.TrackingReport) bool {
	return p.Enabled &&
		r.Recommendation == domain.RecommendRollback &&
		r.Current.ROAS < p.MaxROAS &&
		r.Current.Spend >= p.MinSpend
}

// Rollback reverses an applied record by sending the inverse action with the
// record's previous value. The reversal is itself a new ledger record
// pointing at the original; the original only moves to rolled_back.
func (s *Service) Rollback(ctx context.Context, recordID string) (*domain.ExecutionRecord, error) {
	orig, err := s.ledger.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if orig.Status != domain.RecordApplied {
		return nil, fmt.Errorf("%w: record %s is %s", ErrNotRollbackable, orig.ID, orig.Status)
	}

	release, err := s.lockScope(ctx, orig.ScopeID)
	if err != nil {
		return nil, err
	}
	defer release()

	// another rollback may have finished while this one waited for the lock
	orig, err = s.ledger.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if orig.Status != domain.RecordApplied {
		return nil, fmt.Errorf("%w: record %s is %s", ErrNotRollbackable, orig.ID, orig.Status)
	}

	bg := context.WithoutCancel(ctx)
	seg, err := s.segments.GetSegment(ctx, orig.SegmentID)
	if err != nil {
		return nil, fmt.Errorf("load segment %s: %w", orig.SegmentID, err)
	}

	now := s.now().UTC()
	batch := &domain.ExecutionBatch{
		ID:        uuid.New().String(),
		ScopeID:   orig.ScopeID,
		Source:    domain.SourceRollback,
		SourceID:  orig.ID,
		Status:    domain.BatchExecuting,
		Total:     1,
		CreatedAt: now,
		StartedAt: &now,
	}
	if err := s.batches.CreateBatch(bg, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	abort := func(err error) error {
		batch.Status = domain.BatchFailed
		s.finish(bg, batch, 0, 1, 0)
		return err
	}

	action := orig.Action.Inverse()
	value := seg.ControlValue
	if action.SetsValue() {
		value = orig.PreviousValue
	}
	rec := &domain.ExecutionRecord{
		ID:            uuid.New().String(),
		BatchID:       batch.ID,
		ScopeID:       orig.ScopeID,
		SegmentID:     orig.SegmentID,
		SegmentKind:   orig.SegmentKind,
		Action:        action,
		PreviousValue: seg.ControlValue,
		NewValue:      value,
		ChangePct:     domain.PctChange(seg.ControlValue, value),
		Reason:        domain.RollbackReason(orig.ID),
		Status:        domain.RecordPending,
		ExecutedAt:    now,
		RollbackOf:    orig.ID,
	}
	if err := s.ledger.AppendRecord(bg, rec); err != nil {
		return nil, abort(fmt.Errorf("append record: %w", err))
	}

	if merr := s.mutate(bg, *seg, action, value); merr != nil {
		rec.Status = domain.RecordFailed
		rec.Error = merr.Error()
		if err := s.ledger.TransitionRecord(bg, rec.ID, domain.RecordPending, domain.RecordFailed, rec.Error); err != nil {
			log.Printf("[execution.Service] ERROR: settle rollback record %s: %v", rec.ID, err)
		}
		log.Printf("[execution.Service] Rollback of %s failed: %v", orig.ID, merr)
		return rec, abort(fmt.Errorf("%w: %v", ErrRollbackFailed, merr))
	}

	rec.Status = domain.RecordApplied
	if err := s.ledger.TransitionRecord(bg, rec.ID, domain.RecordPending, domain.RecordApplied, ""); err != nil {
		return nil, abort(fmt.Errorf("settle record %s: %w", rec.ID, err))
	}
	if err := s.ledger.TransitionRecord(bg, orig.ID, domain.RecordApplied, domain.RecordRolledBack, ""); err != nil {
		return nil, abort(fmt.Errorf("mark %s rolled back: %w", orig.ID, err))
	}
	next := advance(*seg, action, value)
	if err := s.segments.UpdateSegmentControl(bg, seg.ID, next.ControlValue, next.State); err != nil {
		log.Printf("[execution.Service] WARN: rolled back %s but could not store control value: %v", orig.ID, err)
	}
	batch.Status = domain.BatchCompleted
	s.finish(bg, batch, 1, 0, 0)

	log.Printf("[execution.Service] Rolled back %s on %s: %s %.2f", orig.ID, orig.SegmentID, action, value)
	return rec, nil
}

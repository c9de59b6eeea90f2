package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
	"github.com/ignite/spend-optimizer/internal/service/execution"
	"github.com/ignite/spend-optimizer/internal/service/prediction"
	"github.com/ignite/spend-optimizer/internal/service/review"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
)

// Store holds segments, performance rows, plans, suggestion sets, the
// execution ledger, batches, predictions, tracking annotations and reviews.
type Store struct {
	mu          sync.RWMutex
	segments    map[string]domain.Segment
	rows        []domain.PerformanceRecord
	plans       map[string]domain.AllocationPlan
	sets        map[string]domain.SuggestionSet
	records     map[string]domain.ExecutionRecord
	recordOrder []string
	batches     map[string]domain.ExecutionBatch
	predictions map[string]domain.PredictionRecord
	annotations map[string]domain.Tracked
	reviews     map[string]domain.ReviewSchedule
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		segments:    make(map[string]domain.Segment),
		plans:       make(map[string]domain.AllocationPlan),
		sets:        make(map[string]domain.SuggestionSet),
		records:     make(map[string]domain.ExecutionRecord),
		batches:     make(map[string]domain.ExecutionBatch),
		predictions: make(map[string]domain.PredictionRecord),
		annotations: make(map[string]domain.Tracked),
		reviews:     make(map[string]domain.ReviewSchedule),
	}
}

// =============================================================================
// Segments and performance rows
// =============================================================================

// PutSegments inserts or replaces segments.
func (s *Store) PutSegments(segs ...domain.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range segs {
		s.segments[seg.ID] = seg
	}
}

// AddPerformance appends raw performance rows.
func (s *Store) AddPerformance(rows ...domain.PerformanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

func (s *Store) ListSegments(_ context.Context, scopeID string, kind domain.SegmentKind) ([]domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Segment
	for _, seg := range s.segments {
		if seg.ScopeID != scopeID || seg.State == domain.SegmentArchived {
			continue
		}
		if kind != "" && seg.Kind != kind {
			continue
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetSegment(_ context.Context, id string) (*domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSegmentNotFound, id)
	}
	return &seg, nil
}

func (s *Store) UpdateSegmentControl(_ context.Context, id string, value float64, state domain.SegmentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSegmentNotFound, id)
	}
	seg.ControlValue = value
	seg.State = state
	s.segments[id] = seg
	return nil
}

// Records implements performance.Source.
func (s *Store) Records(_ context.Context, segmentIDs []string, start, end time.Time, _ domain.Granularity) ([]domain.PerformanceRecord, error) {
	want := make(map[string]bool, len(segmentIDs))
	for _, id := range segmentIDs {
		want[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PerformanceRecord
	for _, r := range s.rows {
		if want[r.SegmentID] && !r.PeriodStart.Before(start) && r.PeriodStart.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// Plans
// =============================================================================

// Plans returns the store's allocation.PlanRepository view.
func (s *Store) Plans() allocation.PlanRepository { return planRepo{s} }

type planRepo struct{ s *Store }

func copyPlan(p domain.AllocationPlan) *domain.AllocationPlan {
	p.Allocations = append([]domain.Allocation(nil), p.Allocations...)
	return &p
}

func (r planRepo) Create(_ context.Context, p *domain.AllocationPlan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.plans[p.ID] = *copyPlan(*p)
	return nil
}

func (r planRepo) Get(_ context.Context, id string) (*domain.AllocationPlan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, allocation.ErrNotFound
	}
	return copyPlan(p), nil
}

func (r planRepo) ListByScope(_ context.Context, scopeID string, limit int) ([]domain.AllocationPlan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.AllocationPlan
	for _, p := range r.s.plans {
		if p.ScopeID == scopeID {
			out = append(out, *copyPlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r planRepo) UpdateStatus(_ context.Context, id string, from, to domain.PlanStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return allocation.ErrNotFound
	}
	if p.Status != from || !from.CanTransition(to) {
		return allocation.ErrInvalidTransition
	}
	p.Status = to
	switch to {
	case domain.PlanApproved:
		p.ApprovedAt = &at
	case domain.PlanSuperseded:
		p.SupersededAt = &at
	}
	r.s.plans[id] = p
	return nil
}

func (r planRepo) Apply(_ context.Context, id, batchID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return allocation.ErrNotFound
	}
	if p.Status != domain.PlanApproved {
		return allocation.ErrInvalidTransition
	}
	for oid, other := range r.s.plans {
		if other.ScopeID == p.ScopeID && other.Status == domain.PlanApplied {
			other.Status = domain.PlanSuperseded
			other.SupersededAt = &at
			r.s.plans[oid] = other
		}
	}
	p.Status = domain.PlanApplied
	p.AppliedAt = &at
	p.BatchID = batchID
	r.s.plans[id] = p
	return nil
}

// =============================================================================
// Suggestion sets
// =============================================================================

func (s *Store) SaveSuggestionSet(_ context.Context, set *domain.SuggestionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *set
	cp.Suggestions = append([]domain.Suggestion(nil), set.Suggestions...)
	s.sets[set.ID] = cp
	return nil
}

func (s *Store) GetSuggestionSet(_ context.Context, id string) (*domain.SuggestionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[id]
	if !ok {
		return nil, suggestion.ErrSetNotFound
	}
	set.Suggestions = append([]domain.Suggestion(nil), set.Suggestions...)
	return &set, nil
}

// =============================================================================
// Execution ledger and batches
// =============================================================================

func (s *Store) AppendRecord(_ context.Context, rec *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	s.records[rec.ID] = *rec
	s.recordOrder = append(s.recordOrder, rec.ID)
	return nil
}

func (s *Store) GetRecord(_ context.Context, id string) (*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) TransitionRecord(_ context.Context, id string, from, to domain.RecordStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return execution.ErrNotFound
	}
	if rec.Status != from || !from.CanTransition(to) {
		return execution.ErrInvalidTransition
	}
	rec.Status = to
	if errMsg != "" {
		rec.Error = errMsg
	}
	s.records[id] = rec
	return nil
}

func (s *Store) ListByBatch(_ context.Context, batchID string) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExecutionRecord
	for _, id := range s.recordOrder {
		if rec := s.records[id]; rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) History(_ context.Context, scopeID, segmentID string) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExecutionRecord
	for _, id := range s.recordOrder {
		rec := s.records[id]
		if rec.ScopeID == scopeID && (segmentID == "" || rec.SegmentID == segmentID) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

func (s *Store) CreateBatch(_ context.Context, b *domain.ExecutionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = *b
	return nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.ExecutionBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, execution.ErrBatchNotFound
	}
	return &b, nil
}

func (s *Store) UpdateBatch(_ context.Context, b *domain.ExecutionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return execution.ErrBatchNotFound
	}
	s.batches[b.ID] = *b
	return nil
}

func (s *Store) ListBatches(_ context.Context, scopeID string, limit int) ([]domain.ExecutionBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ExecutionBatch
	for _, b := range s.batches {
		if b.ScopeID == scopeID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// Predictions, tracking annotations, reviews
// =============================================================================

func (s *Store) CreatePredictions(_ context.Context, recs []domain.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.predictions[r.ID] = r
	}
	return nil
}

func (s *Store) GetPrediction(_ context.Context, id string) (*domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil, prediction.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListPredictions(_ context.Context, kind domain.PredictionSource, sourceID string) ([]domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PredictionRecord
	for _, p := range s.predictions {
		if p.SourceKind == kind && p.SourceID == sourceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Periods < out[j].Periods })
	return out, nil
}

func (s *Store) GetAnnotation(_ context.Context, recordID string) (domain.TrackingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.annotations[recordID]; ok {
		return t, nil
	}
	return domain.Untracked{}, nil
}

func (s *Store) PutAnnotation(_ context.Context, recordID string, t domain.Tracked) (domain.Tracked, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.annotations[recordID]; ok {
		return existing, nil
	}
	s.annotations[recordID] = t
	return t, nil
}

func (s *Store) CreateReviews(_ context.Context, rs []domain.ReviewSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		s.reviews[r.ID] = r
	}
	return nil
}

func (s *Store) GetReview(_ context.Context, id string) (*domain.ReviewSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, review.ErrNotFound
	}
	return &r, nil
}

func (s *Store) UpdateReview(_ context.Context, r *domain.ReviewSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; !ok {
		return review.ErrNotFound
	}
	s.reviews[r.ID] = *r
	return nil
}

func (s *Store) ListDueReviews(_ context.Context, now time.Time, limit int) ([]domain.ReviewSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ReviewSchedule
	for _, r := range s.reviews {
		if r.IsDue(now) {
			out = append(out, r)
		}
	}
	sortReviews(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListReviews(_ context.Context, scopeID string, status domain.ReviewStatus) ([]domain.ReviewSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ReviewSchedule
	for _, r := range s.reviews {
		if r.ScopeID == scopeID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sortReviews(out)
	return out, nil
}

func sortReviews(rs []domain.ReviewSchedule) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].ScheduledAt.Equal(rs[j].ScheduledAt) {
			return rs[i].ScheduledAt.Before(rs[j].ScheduledAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

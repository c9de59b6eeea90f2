package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
	"github.com/ignite/spend-optimizer/internal/service/execution"
	"github.com/ignite/spend-optimizer/internal/service/prediction"
	"github.com/ignite/spend-optimizer/internal/service/review"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
	"github.com/ignite/spend-optimizer/internal/service/tracking"
)

// Notifier delivers operator notifications. Delivery is best effort: the
// engine logs notifier errors and carries on.
type Notifier interface {
	BatchFinished(ctx context.Context, summary domain.ExecutionSummary) error
	AutoRolledBack(ctx context.Context, original domain.ExecutionRecord, report domain.TrackingReport) error
}

// Archiver keeps long-term copies of plans and tracking reports.
type Archiver interface {
	ArchivePlan(ctx context.Context, plan *domain.AllocationPlan) error
	ArchiveReport(ctx context.Context, scopeID string, report domain.TrackingReport) error
}

// Deps are the collaborators of an Engine. Notifier, Archiver and Metrics
// are optional.
type Deps struct {
	Allocation     *allocation.Service
	Suggestions    *suggestion.Service
	SuggestionSets suggestion.SetRepository
	Predictions    *prediction.Service
	Execution      *execution.Service
	Tracking       *tracking.Service
	Reviews        *review.Service
	Segments       execution.SegmentStore
	Notifier       Notifier
	Archiver       Archiver
	Metrics        *Metrics
}

// Engine exposes the optimizer operations.
type Engine struct {
	alloc    *allocation.Service
	sugg     *suggestion.Service
	sets     suggestion.SetRepository
	pred     *prediction.Service
	exec     *execution.Service
	track    *tracking.Service
	reviews  *review.Service
	segments execution.SegmentStore
	notifier Notifier
	archiver Archiver
	metrics  *Metrics
	log      *logger.Logger
	now      func() time.Time
}

// New creates an engine.
func New(d Deps) *Engine {
	m := d.Metrics
	if m == nil {
		m = NewMetrics(prometheus.NewRegistry())
	}
	if d.Execution != nil {
		d.Execution.SetObserver(m)
	}
	return &Engine{
		alloc:    d.Allocation,
		sugg:     d.Suggestions,
		sets:     d.SuggestionSets,
		pred:     d.Predictions,
		exec:     d.Execution,
		track:    d.Tracking,
		reviews:  d.Reviews,
		segments: d.Segments,
		notifier: d.Notifier,
		archiver: d.Archiver,
		metrics:  m,
		log:      logger.Component("engine"),
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// PlanResult is a generated plan with its outcome projections.
type PlanResult struct {
	Plan        *domain.AllocationPlan    `json:"plan"`
	Predictions []domain.PredictionRecord `json:"predictions"`
}

// ExecutionResult is a finished batch with the projections and reviews
// created for it.
type ExecutionResult struct {
	Summary     *domain.ExecutionSummary  `json:"summary"`
	Predictions []domain.PredictionRecord `json:"predictions,omitempty"`
	Reviews     []domain.ReviewSchedule   `json:"reviews,omitempty"`
}

// GenerateAllocationPlan builds a proposed plan and stores its predictions.
func (e *Engine) GenerateAllocationPlan(ctx context.Context, req allocation.PlanRequest) (*PlanResult, error) {
	plan, err := e.alloc.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	e.metrics.PlansGenerated.Inc()

	preds, err := e.pred.Predict(ctx, prediction.PlanInput(plan))
	if err != nil {
		return nil, err
	}
	if e.archiver != nil {
		if err := e.archiver.ArchivePlan(ctx, plan); err != nil {
			e.log.Warn("plan archive failed", "plan_id", plan.ID, "error", err.Error())
		}
	}
	return &PlanResult{Plan: plan, Predictions: preds}, nil
}

// ApprovePlan approves a proposed plan.
func (e *Engine) ApprovePlan(ctx context.Context, planID string) (*domain.AllocationPlan, error) {
	return e.alloc.Approve(ctx, planID)
}

// GetPlan returns a plan with its stored predictions.
func (e *Engine) GetPlan(ctx context.Context, planID string) (*PlanResult, error) {
	plan, err := e.alloc.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	preds, err := e.pred.ForSource(ctx, domain.PredictionForPlan, plan.ID)
	if err != nil {
		return nil, err
	}
	return &PlanResult{Plan: plan, Predictions: preds}, nil
}

// ListPlans returns a scope's most recent plans.
func (e *Engine) ListPlans(ctx context.Context, scopeID string, limit int) ([]domain.AllocationPlan, error) {
	return e.alloc.List(ctx, scopeID, limit)
}

// GenerateSuggestions evaluates the rule set over a scope and stores the
// set for later execution.
func (e *Engine) GenerateSuggestions(ctx context.Context, scopeID string, start, end time.Time) (*domain.SuggestionSet, error) {
	set, err := e.sugg.Generate(ctx, scopeID, start, end)
	if err != nil {
		return nil, err
	}
	if err := e.sets.SaveSuggestionSet(ctx, set); err != nil {
		return nil, fmt.Errorf("store suggestion set: %w", err)
	}
	return set, nil
}

// GetSuggestionSet returns a stored suggestion set.
func (e *Engine) GetSuggestionSet(ctx context.Context, id string) (*domain.SuggestionSet, error) {
	return e.sets.GetSuggestionSet(ctx, id)
}

// ExecutePlan applies an approved plan. A batch that applied at least one
// change marks the plan applied, superseding the scope's previous plan, and
// schedules reviews of its projected outcome.
func (e *Engine) ExecutePlan(ctx context.Context, planID string) (*ExecutionResult, error) {
	plan, err := e.alloc.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != domain.PlanApproved {
		return nil, fmt.Errorf("%w: plan %s is %s", ErrPlanNotApproved, plan.ID, plan.Status)
	}

	var items []domain.ExecutionItem
	for _, a := range plan.Allocations {
		if !a.Changed() {
			continue
		}
		seg, err := e.segments.GetSegment(ctx, a.SegmentID)
		if err != nil {
			return nil, fmt.Errorf("load segment %s: %w", a.SegmentID, err)
		}
		items = append(items, domain.ExecutionItem{
			Segment:  *seg,
			Action:   domain.ControlActionFor(a.SegmentKind),
			NewValue: a.SuggestedValue,
			Reason:   a.Rationale,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: plan %s changes no control values", ErrNothingToExecute, plan.ID)
	}

	summary, err := e.exec.Execute(ctx, execution.Request{
		ScopeID:  plan.ScopeID,
		Source:   domain.SourcePlan,
		SourceID: plan.ID,
		Items:    items,
	})
	if err != nil {
		return nil, err
	}
	e.batchDone(ctx, summary)

	res := &ExecutionResult{Summary: summary}
	if summary.Batch.Succeeded == 0 {
		return res, nil
	}
	if err := e.alloc.MarkApplied(ctx, plan.ID, summary.Batch.ID); err != nil {
		return nil, fmt.Errorf("mark plan applied: %w", err)
	}

	applied := appliedSegments(summary)
	in := prediction.PlanInput(plan)
	in.SourceKind = domain.PredictionForBatch
	in.SourceID = summary.Batch.ID
	in.Impacts = in.Impacts[:0]
	for _, a := range plan.Allocations {
		if applied[a.SegmentID] {
			in.Impacts = append(in.Impacts, domain.ExpectedImpact{
				SpendDelta: a.ProjectedSpend - a.CurrentSpend,
				SalesDelta: a.ProjectedSales - a.CurrentSales,
			})
		}
	}
	if err := e.predictAndSchedule(ctx, in, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ExecuteSuggestions applies a stored suggestion set. segmentIDs selects a
// subset; empty means every suggestion in the set.
func (e *Engine) ExecuteSuggestions(ctx context.Context, setID string, segmentIDs []string) (*ExecutionResult, error) {
	set, err := e.sets.GetSuggestionSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(segmentIDs))
	for _, id := range segmentIDs {
		want[id] = true
	}

	var chosen []domain.Suggestion
	var items []domain.ExecutionItem
	for _, s := range set.Suggestions {
		if len(want) > 0 && !want[s.Segment.ID] {
			continue
		}
		seg, err := e.segments.GetSegment(ctx, s.Segment.ID)
		if err != nil {
			return nil, fmt.Errorf("load segment %s: %w", s.Segment.ID, err)
		}
		chosen = append(chosen, s)
		items = append(items, domain.ExecutionItem{
			Segment:  *seg,
			Action:   s.Action,
			NewValue: s.SuggestedValue,
			Reason:   s.Reason,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no suggestions selected from set %s", ErrNothingToExecute, set.ID)
	}

	summary, err := e.exec.Execute(ctx, execution.Request{
		ScopeID:  set.ScopeID,
		Source:   domain.SourceSuggestions,
		SourceID: set.ID,
		Items:    items,
	})
	if err != nil {
		return nil, err
	}
	e.batchDone(ctx, summary)

	res := &ExecutionResult{Summary: summary}
	if summary.Batch.Succeeded == 0 {
		return res, nil
	}
	applied := appliedSegments(summary)
	var done []domain.Suggestion
	for _, s := range chosen {
		if applied[s.Segment.ID] {
			done = append(done, s)
		}
	}
	base := summary.Batch.Baseline
	baseline := domain.Projection{Spend: base.Spend / base.Days(), Sales: base.Sales / base.Days()}
	in := prediction.SuggestionInput(set.ScopeID, summary.Batch.ID, baseline, done)
	if err := e.predictAndSchedule(ctx, in, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) predictAndSchedule(ctx context.Context, in prediction.Input, res *ExecutionResult) error {
	preds, err := e.pred.Predict(ctx, in)
	if err != nil {
		return err
	}
	reviews, err := e.reviews.Schedule(ctx, res.Summary.Batch.ID, preds, e.now().UTC())
	if err != nil {
		return err
	}
	res.Predictions = preds
	res.Reviews = reviews
	return nil
}

func (e *Engine) batchDone(ctx context.Context, summary *domain.ExecutionSummary) {
	e.metrics.batchDone(summary.Batch)
	if e.notifier != nil {
		if err := e.notifier.BatchFinished(ctx, *summary); err != nil {
			e.log.Warn("batch notification failed", "batch_id", summary.Batch.ID, "error", err.Error())
		}
	}
}

// GetBatch returns a batch with its records.
func (e *Engine) GetBatch(ctx context.Context, batchID string) (*domain.ExecutionSummary, error) {
	return e.exec.GetBatch(ctx, batchID)
}

// ListBatches returns a scope's recent batches.
func (e *Engine) ListBatches(ctx context.Context, scopeID string, limit int) ([]domain.ExecutionBatch, error) {
	return e.exec.ListBatches(ctx, scopeID, limit)
}

// GetTrackingReport scores a ledger record now, or says when it can be.
func (e *Engine) GetTrackingReport(ctx context.Context, recordID string) (*tracking.Outcome, error) {
	out, err := e.track.Track(ctx, recordID, e.now().UTC())
	if err != nil {
		return nil, err
	}
	if out.Report != nil {
		e.metrics.tracked(*out.Report)
	}
	return out, nil
}

// ListPendingReviews returns a scope's reviews that have not run yet.
func (e *Engine) ListPendingReviews(ctx context.Context, scopeID string) ([]domain.ReviewSchedule, error) {
	return e.reviews.List(ctx, scopeID, domain.ReviewPending)
}

// ReviewOutcome is a processed review with any automatic rollbacks it
// triggered.
type ReviewOutcome struct {
	Result     *review.Result           `json:"result"`
	RolledBack []domain.ExecutionRecord `json:"rolled_back,omitempty"`
}

// ProcessReview runs one review and applies the auto-rollback policy to
// the reports it produced.
func (e *Engine) ProcessReview(ctx context.Context, reviewID string) (*ReviewOutcome, error) {
	res, err := e.reviews.Process(ctx, reviewID, e.now().UTC())
	if err != nil {
		return nil, err
	}
	e.metrics.Reviews.WithLabelValues(string(res.Review.Status)).Inc()

	out := &ReviewOutcome{Result: res}
	policy := e.exec.Config().AutoRollback
	for _, report := range res.Reports {
		e.metrics.tracked(report)
		if e.archiver != nil {
			if err := e.archiver.ArchiveReport(ctx, res.Review.ScopeID, report); err != nil {
				e.log.Warn("report archive failed", "record_id", report.RecordID, "error", err.Error())
			}
		}
		if !policy.ShouldRollback(report) {
			continue
		}
		rb, err := e.autoRollback(ctx, report)
		if err != nil {
			if errors.Is(err, execution.ErrNotRollbackable) {
				continue
			}
			e.log.Error("auto-rollback failed", "record_id", report.RecordID, "error", err.Error())
			continue
		}
		out.RolledBack = append(out.RolledBack, *rb)
	}
	return out, nil
}

func (e *Engine) autoRollback(ctx context.Context, report domain.TrackingReport) (*domain.ExecutionRecord, error) {
	orig, err := e.exec.GetRecord(ctx, report.RecordID)
	if err != nil {
		return nil, err
	}
	if orig.Status != domain.RecordApplied || orig.RollbackOf != "" {
		return nil, execution.ErrNotRollbackable
	}
	log := e.log.With("record_id", orig.ID, "segment_id", orig.SegmentID)
	rb, err := e.exec.Rollback(ctx, orig.ID)
	e.metrics.rollback("auto", err)
	if err != nil {
		return nil, err
	}
	log.Info("auto-rolled back change", "score", report.Score, "roas", report.Current.ROAS)
	if e.notifier != nil {
		if err := e.notifier.AutoRolledBack(ctx, *orig, report); err != nil {
			log.Warn("rollback notification failed", "error", err.Error())
		}
	}
	return rb, nil
}

// DueSummary counts the work of one ProcessDueReviews pass.
type DueSummary struct {
	Processed   int `json:"processed"`
	Completed   int `json:"completed"`
	Skipped     int `json:"skipped"`
	Rescheduled int `json:"rescheduled"`
	RolledBack  int `json:"rolled_back"`
	Errors      int `json:"errors"`
}

// ProcessDueReviews processes every review whose time has come. A failing
// review is logged and counted; it does not stop the pass.
func (e *Engine) ProcessDueReviews(ctx context.Context) (*DueSummary, error) {
	due, err := e.reviews.ListDue(ctx, e.now().UTC())
	if err != nil {
		return nil, err
	}
	sum := &DueSummary{}
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, err := e.ProcessReview(ctx, r.ID)
		if err != nil {
			sum.Errors++
			e.log.Error("review failed", "review_id", r.ID, "error", err.Error())
			continue
		}
		sum.Processed++
		sum.RolledBack += len(out.RolledBack)
		switch out.Result.Review.Status {
		case domain.ReviewCompleted:
			sum.Completed++
		case domain.ReviewSkipped:
			sum.Skipped++
		default:
			sum.Rescheduled++
		}
	}
	if len(due) > 0 {
		e.log.Info("due reviews processed", "processed", sum.Processed, "completed", sum.Completed,
			"rescheduled", sum.Rescheduled, "rolled_back", sum.RolledBack, "errors", sum.Errors)
	}
	return sum, nil
}

// Rollback reverses an applied ledger record on operator request.
func (e *Engine) Rollback(ctx context.Context, recordID string) (*domain.ExecutionRecord, error) {
	rb, err := e.exec.Rollback(ctx, recordID)
	if !errors.Is(err, execution.ErrNotRollbackable) && !errors.Is(err, execution.ErrNotFound) {
		e.metrics.rollback("manual", err)
	}
	return rb, err
}

// History returns a scope's ledger in timestamp order, optionally for one
// segment.
func (e *Engine) History(ctx context.Context, scopeID, segmentID string) ([]domain.ExecutionRecord, error) {
	return e.exec.History(ctx, scopeID, segmentID)
}

// Replay reconstructs control values from a scope's ledger.
func (e *Engine) Replay(ctx context.Context, scopeID string) (map[string]execution.ReplayedSegment, error) {
	recs, err := e.exec.History(ctx, scopeID, "")
	if err != nil {
		return nil, err
	}
	return execution.Replay(recs), nil
}

func appliedSegments(s *domain.ExecutionSummary) map[string]bool {
	out := make(map[string]bool, len(s.Records))
	for _, r := range s.Records {
		if r.Status == domain.RecordApplied {
			out[r.SegmentID] = true
		}
	}
	return out
}

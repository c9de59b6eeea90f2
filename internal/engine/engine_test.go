package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/engine"
	"github.com/ignite/spend-optimizer/internal/performance"
	"github.com/ignite/spend-optimizer/internal/pkg/distlock"
	"github.com/ignite/spend-optimizer/internal/repository/memory"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
	"github.com/ignite/spend-optimizer/internal/service/execution"
	"github.com/ignite/spend-optimizer/internal/service/prediction"
	"github.com/ignite/spend-optimizer/internal/service/review"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
	"github.com/ignite/spend-optimizer/internal/service/tracking"
)

var t0 = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type okMutator struct{ calls int }

func (m *okMutator) Apply(context.Context, domain.Segment, domain.ActionType, float64) error {
	m.calls++
	return nil
}

type recordingNotifier struct {
	batches   int
	rollbacks []string
}

func (n *recordingNotifier) BatchFinished(context.Context, domain.ExecutionSummary) error {
	n.batches++
	return nil
}

func (n *recordingNotifier) AutoRolledBack(_ context.Context, rec domain.ExecutionRecord, _ domain.TrackingReport) error {
	n.rollbacks = append(n.rollbacks, rec.SegmentID)
	return nil
}

type fixture struct {
	eng      *engine.Engine
	store    *memory.Store
	metrics  *engine.Metrics
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T, scope string) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutSegments(
		domain.Segment{ID: scope + "-p1", ScopeID: scope, CampaignID: "c1", Kind: domain.SegmentPlacement, ControlValue: 50, State: domain.SegmentEnabled},
		domain.Segment{ID: scope + "-p2", ScopeID: scope, CampaignID: "c1", Kind: domain.SegmentPlacement, ControlValue: 100, State: domain.SegmentEnabled},
		domain.Segment{ID: scope + "-kw", ScopeID: scope, CampaignID: "c1", Kind: domain.SegmentKeyword, ControlValue: 1, State: domain.SegmentEnabled},
	)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for d := 0; d < 14; d++ {
		day := start.AddDate(0, 0, d)
		store.AddPerformance(
			domain.PerformanceRecord{SegmentID: scope + "-p1", PeriodStart: day, Impressions: 100, Clicks: 5, Spend: 10, Sales: 50, Orders: 1},
			domain.PerformanceRecord{SegmentID: scope + "-p2", PeriodStart: day, Impressions: 100, Clicks: 5, Spend: 20, Sales: 20, Orders: 1},
			domain.PerformanceRecord{SegmentID: scope + "-kw", PeriodStart: day, Impressions: 50, Clicks: 3, Spend: 5},
		)
	}

	f := &fixture{store: store, notifier: &recordingNotifier{}, now: t0}
	clock := func() time.Time { return t0 }
	agg := performance.NewAggregator(store, "")

	alloc := allocation.NewService(store, agg, store.Plans(), allocation.DefaultConfig())
	alloc.SetClock(clock)
	sugg := suggestion.NewService(store, agg, suggestion.DefaultConfig())
	sugg.SetClock(clock)
	pred := prediction.NewService(store, prediction.DefaultConfig())
	pred.SetClock(clock)
	exec := execution.NewService(store, store, store, &okMutator{}, agg, distlock.NewFactory(nil, nil, time.Minute), execution.DefaultConfig())
	exec.SetClock(clock)
	track := tracking.NewService(store, store, agg, tracking.DefaultConfig())
	rev := review.NewService(store, store, track, review.DefaultConfig())

	f.metrics = engine.NewMetrics(prometheus.NewRegistry())
	f.eng = engine.New(engine.Deps{
		Allocation:     alloc,
		Suggestions:    sugg,
		SuggestionSets: store,
		Predictions:    pred,
		Execution:      exec,
		Tracking:       track,
		Reviews:        rev,
		Segments:       store,
		Notifier:       f.notifier,
		Metrics:        f.metrics,
	})
	f.eng.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) segment(t *testing.T, id string) domain.Segment {
	t.Helper()
	seg, err := f.store.GetSegment(context.Background(), id)
	require.NoError(t, err)
	return *seg
}

func TestPlanLifecycle(t *testing.T) {
	f := newFixture(t, "plan")
	ctx := context.Background()

	res, err := f.eng.GenerateAllocationPlan(ctx, allocation.PlanRequest{
		ScopeID:     "plan",
		TotalBudget: 100,
		TargetROAS:  3,
		Bounds:      domain.Bounds{Min: 0, Max: 900},
	})
	require.NoError(t, err)
	assert.Len(t, res.Predictions, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PlansGenerated))

	_, err = f.eng.ExecutePlan(ctx, res.Plan.ID)
	assert.ErrorIs(t, err, engine.ErrPlanNotApproved)

	_, err = f.eng.ApprovePlan(ctx, res.Plan.ID)
	require.NoError(t, err)

	out, err := f.eng.ExecutePlan(ctx, res.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, out.Summary.Batch.Status)
	assert.Equal(t, 2, out.Summary.Batch.Succeeded)
	assert.Len(t, out.Predictions, 3)
	assert.Len(t, out.Reviews, 3)
	assert.Equal(t, 1, f.notifier.batches)

	assert.Equal(t, 60.0, f.segment(t, "plan-p1").ControlValue)
	assert.Equal(t, 90.0, f.segment(t, "plan-p2").ControlValue)

	got, err := f.eng.GetPlan(ctx, res.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanApplied, got.Plan.Status)
	assert.Equal(t, out.Summary.Batch.ID, got.Plan.BatchID)

	hist, err := f.eng.History(ctx, "plan", "")
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	replayed, err := f.eng.Replay(ctx, "plan")
	require.NoError(t, err)
	assert.Equal(t, 60.0, replayed["plan-p1"].Value)

	pending, err := f.eng.ListPendingReviews(ctx, "plan")
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestExecuteSuggestions(t *testing.T) {
	f := newFixture(t, "sugg")
	ctx := context.Background()

	set, err := f.eng.GenerateSuggestions(ctx, "sugg", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, set.Suggestions, 1)
	assert.Equal(t, domain.ActionPause, set.Suggestions[0].Action)

	out, err := f.eng.ExecuteSuggestions(ctx, set.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, out.Summary.Batch.Status)
	assert.Equal(t, domain.SegmentPaused, f.segment(t, "sugg-kw").State)
	require.Len(t, out.Predictions, 3)
	assert.Equal(t, domain.PredictionForBatch, out.Predictions[0].SourceKind)
	assert.Less(t, out.Predictions[2].Projected.Spend, out.Predictions[2].Baseline.Spend*30)

	_, err = f.eng.ExecuteSuggestions(ctx, set.ID, []string{"unknown"})
	assert.ErrorIs(t, err, engine.ErrNothingToExecute)
}

func TestReviewsAutoRollback(t *testing.T) {
	f := newFixture(t, "auto")
	ctx := context.Background()

	res, err := f.eng.GenerateAllocationPlan(ctx, allocation.PlanRequest{
		ScopeID: "auto", TotalBudget: 100, TargetROAS: 3, Bounds: domain.Bounds{Max: 900},
	})
	require.NoError(t, err)
	_, err = f.eng.ApprovePlan(ctx, res.Plan.ID)
	require.NoError(t, err)
	out, err := f.eng.ExecutePlan(ctx, res.Plan.ID)
	require.NoError(t, err)

	// p1 collapses after the change.
	for d := 19; d <= 25; d++ {
		f.store.AddPerformance(domain.PerformanceRecord{
			SegmentID: "auto-p1", PeriodStart: time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC),
			Impressions: 100, Clicks: 5, Spend: 30, Sales: 30,
		})
	}

	// The 7-day review comes due before the observation window closes.
	f.now = t0.AddDate(0, 0, 8)
	sum, err := f.eng.ProcessDueReviews(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rescheduled)
	assert.Zero(t, sum.RolledBack)

	f.now = t0.AddDate(0, 0, 40)
	sum, err = f.eng.ProcessDueReviews(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Completed)
	assert.Equal(t, 1, sum.RolledBack)
	assert.Equal(t, []string{"auto-p1"}, f.notifier.rollbacks)
	assert.Equal(t, 50.0, f.segment(t, "auto-p1").ControlValue)
	assert.Equal(t, 90.0, f.segment(t, "auto-p2").ControlValue)

	var p1Record string
	for _, r := range out.Summary.Records {
		if r.SegmentID == "auto-p1" {
			p1Record = r.ID
		}
	}
	report, err := f.eng.GetTrackingReport(ctx, p1Record)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendRollback, report.Report.Recommendation)

	_, err = f.eng.Rollback(ctx, p1Record)
	assert.ErrorIs(t, err, execution.ErrNotRollbackable)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rollbacks.WithLabelValues("auto", "ok")))
}

func TestScopeConflict(t *testing.T) {
	f := newFixture(t, "busy")
	ctx := context.Background()

	res, err := f.eng.GenerateAllocationPlan(ctx, allocation.PlanRequest{
		ScopeID: "busy", TotalBudget: 100, TargetROAS: 3, Bounds: domain.Bounds{Max: 900},
	})
	require.NoError(t, err)
	_, err = f.eng.ApprovePlan(ctx, res.Plan.ID)
	require.NoError(t, err)

	held := distlock.NewLocalLock(execution.LockKey("busy"))
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Release(ctx)

	_, err = f.eng.ExecutePlan(ctx, res.Plan.ID)
	assert.ErrorIs(t, err, engine.ErrScopeConflict)
}

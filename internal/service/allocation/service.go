package allocation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/performance"
)

// Config enumerates every option of plan generation.
type Config struct {
	Estimator EstimatorConfig `yaml:"estimator" json:"estimator"`
	Allocator AllocatorConfig `yaml:"allocator" json:"allocator"`
	// LookbackDays is the trailing analysis window used when a request does
	// not name one.
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Estimator: EstimatorConfig{
			MinClicks:      20,
			MinCurvePoints: 7,
		},
		Allocator: AllocatorConfig{
			StepPoints:          10,
			StepPercent:         10,
			Sensitivity:         0.3,
			IncreaseAt:          1.2,
			HoldAt:              0.8,
			HalfDecreaseAt:      0.5,
			ExploratoryPoints:   10,
			ExploratoryBid:      0.25,
			ExploratorySpendPct: 2,
			BudgetTolerance:     0.01,
		},
		LookbackDays: 14,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	a := c.Allocator
	switch {
	case c.Estimator.MinClicks < 0:
		return fmt.Errorf("allocation: min_clicks must be >= 0")
	case c.Estimator.MinCurvePoints < 2:
		return fmt.Errorf("allocation: min_curve_points must be >= 2")
	case a.StepPoints <= 0 || a.StepPercent <= 0:
		return fmt.Errorf("allocation: step sizes must be > 0")
	case a.Sensitivity <= 0:
		return fmt.Errorf("allocation: sensitivity must be > 0")
	case !(a.IncreaseAt > a.HoldAt && a.HoldAt > a.HalfDecreaseAt && a.HalfDecreaseAt > 0):
		return fmt.Errorf("allocation: band thresholds must satisfy increase_at > hold_at > half_decrease_at > 0")
	case a.ExploratorySpendPct < 0 || a.ExploratorySpendPct > 100:
		return fmt.Errorf("allocation: exploratory_spend_pct must be within [0, 100]")
	case a.BudgetTolerance < 0:
		return fmt.Errorf("allocation: budget_tolerance must be >= 0")
	case c.LookbackDays <= 0:
		return fmt.Errorf("allocation: lookback_days must be > 0")
	}
	return nil
}

// PlanRequest holds the inputs of one plan generation. Budget is per day,
// matching the per-day spend figures in the plan.
type PlanRequest struct {
	ScopeID     string             `json:"scope_id"`
	Kind        domain.SegmentKind `json:"kind"`
	TotalBudget float64            `json:"total_budget"`
	TargetROAS  float64            `json:"target_roas,omitempty"`
	TargetACoS  float64            `json:"target_acos,omitempty"`
	Bounds      domain.Bounds      `json:"bounds"`
	WindowStart time.Time          `json:"window_start,omitempty"`
	WindowEnd   time.Time          `json:"window_end,omitempty"`
}

// Normalize fills the defaults a request may omit and validates the rest.
func (r *PlanRequest) Normalize(now time.Time, lookbackDays int) error {
	if r.ScopeID == "" {
		return fmt.Errorf("%w: scope_id is required", ErrInvalidRequest)
	}
	if r.Kind == "" {
		r.Kind = domain.SegmentPlacement
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown segment kind %q", ErrInvalidRequest, r.Kind)
	}
	if r.TotalBudget <= 0 {
		return fmt.Errorf("%w: total_budget must be > 0", ErrInvalidRequest)
	}
	switch {
	case r.TargetROAS > 0 && r.TargetACoS > 0:
		return fmt.Errorf("%w: give target_roas or target_acos, not both", ErrInvalidRequest)
	case r.TargetACoS > 0:
		r.TargetROAS = 100 / r.TargetACoS
	case r.TargetROAS <= 0:
		return fmt.Errorf("%w: target_roas or target_acos is required", ErrInvalidRequest)
	}
	if r.Bounds.Unit == "" {
		r.Bounds.Unit = domain.DefaultUnit(r.Kind)
	}
	if err := r.Bounds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.WindowEnd.IsZero() {
		r.WindowEnd = now.UTC().Truncate(24 * time.Hour)
	}
	if r.WindowStart.IsZero() {
		r.WindowStart = r.WindowEnd.AddDate(0, 0, -lookbackDays)
	}
	if !r.WindowEnd.After(r.WindowStart) {
		return fmt.Errorf("%w: window_end must be after window_start", ErrInvalidRequest)
	}
	return nil
}

// Service generates and manages allocation plans.
type Service struct {
	segments  SegmentLister
	agg       *performance.Aggregator
	plans     PlanRepository
	estimator *Estimator
	allocator *Allocator
	cfg       Config
	now       func() time.Time
}

// NewService creates an allocation service.
func NewService(segments SegmentLister, agg *performance.Aggregator, plans PlanRepository, cfg Config) *Service {
	return &Service{
		segments:  segments,
		agg:       agg,
		plans:     plans,
		estimator: NewEstimator(cfg.Estimator),
		allocator: NewAllocator(cfg.Allocator),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Generate builds and stores a proposed plan for the request.
func (s *Service) Generate(ctx context.Context, req PlanRequest) (*domain.AllocationPlan, error) {
	now := s.now().UTC()
	if err := req.Normalize(now, s.cfg.LookbackDays); err != nil {
		return nil, err
	}

	segs, err := s.segments.ListSegments(ctx, req.ScopeID, req.Kind)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segs) == 0 {
		return nil, ErrNoSegments
	}
	ids := make([]string, len(segs))
	for i, seg := range segs {
		ids[i] = seg.ID
	}

	windows, err := s.agg.Windows(ctx, ids, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, err
	}
	series, err := s.agg.Series(ctx, ids, req.WindowStart, req.WindowEnd, domain.GranularityDaily)
	if err != nil {
		return nil, err
	}
	campaignAvg, scopeAvg := CampaignAverages(segs, windows)

	inputs := make([]SegmentInput, 0, len(segs))
	var current domain.ProjectedTotals
	for _, seg := range segs {
		w := windows[seg.ID]
		fallback, ok := campaignAvg[seg.CampaignID]
		if !ok {
			fallback = scopeAvg
		}
		days := w.Days()
		in := SegmentInput{
			Segment:  seg,
			Spend:    w.Spend / days,
			Sales:    w.Sales / days,
			Estimate: s.estimator.Estimate(w, series[seg.ID], fallback),
		}
		current.Spend += in.Spend
		current.Sales += in.Sales
		inputs = append(inputs, in)
	}
	current.ROAS = domain.SafeDiv(current.Sales, current.Spend)
	current.ACoS = domain.SafeDiv(current.Spend, current.Sales) * 100

	plan := &domain.AllocationPlan{
		ID:          uuid.New().String(),
		ScopeID:     req.ScopeID,
		Status:      domain.PlanProposed,
		TotalBudget: req.TotalBudget,
		TargetROAS:  req.TargetROAS,
		Bounds:      req.Bounds,
		Allocations: s.allocator.Allocate(inputs, req.TotalBudget, req.TargetROAS, req.Bounds),
		Current:     current,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		GeneratedAt: now,
	}
	plan.Projected = plan.Totals()
	plan.Unallocated = plan.TotalBudget - plan.Projected.Spend
	if plan.Unallocated < 0 {
		plan.Unallocated = 0
	}
	if !plan.WithinBudget(s.cfg.Allocator.BudgetTolerance) {
		return nil, fmt.Errorf("allocation exceeded budget: projected %.2f > %.2f", plan.Projected.Spend, plan.TotalBudget)
	}

	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	log.Printf("[allocation.Service] Plan %s for scope %s: %d allocations, projected spend %.2f of %.2f",
		plan.ID, plan.ScopeID, len(plan.Allocations), plan.Projected.Spend, plan.TotalBudget)
	return plan, nil
}

// Get returns a plan.
func (s *Service) Get(ctx context.Context, id string) (*domain.AllocationPlan, error) {
	return s.plans.Get(ctx, id)
}

// List returns a scope's plans, newest first.
func (s *Service) List(ctx context.Context, scopeID string, limit int) ([]domain.AllocationPlan, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.plans.ListByScope(ctx, scopeID, limit)
}

// Approve moves a proposed plan to approved.
func (s *Service) Approve(ctx context.Context, id string) (*domain.AllocationPlan, error) {
	p, err := s.plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransition(domain.PlanApproved) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, p.Status, domain.PlanApproved)
	}
	if err := s.plans.UpdateStatus(ctx, id, p.Status, domain.PlanApproved, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.plans.Get(ctx, id)
}

// MarkApplied records that an approved plan was executed by batchID and
// supersedes the scope's previously applied plan.
func (s *Service) MarkApplied(ctx context.Context, id, batchID string) error {
	return s.plans.Apply(ctx, id, batchID, s.now().UTC())
}

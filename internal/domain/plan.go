package domain

import "time"

// PlanStatus enumerates the lifecycle states of an allocation plan.
type PlanStatus string

const (
	PlanProposed   PlanStatus = "proposed"
	PlanApproved   PlanStatus = "approved"
	PlanApplied    PlanStatus = "applied"
	PlanSuperseded PlanStatus = "superseded"
)

// CanTransition reports whether a plan may move from s to next.
// proposed → approved → applied → superseded; nothing moves backwards.
func (s PlanStatus) CanTransition(next PlanStatus) bool {
	switch s {
	case PlanProposed:
		return next == PlanApproved
	case PlanApproved:
		return next == PlanApplied
	case PlanApplied:
		return next == PlanSuperseded
	}
	return false
}

// AllocationBand is the classification of a segment's marginal return
// relative to the target ROAS.
type AllocationBand string

const (
	BandIncrease     AllocationBand = "increase"
	BandHold         AllocationBand = "hold"
	BandDecreaseHalf AllocationBand = "decrease_half"
	BandDecreaseFull AllocationBand = "decrease_full"
	BandExploratory  AllocationBand = "exploratory"
)

// Allocation is one row of a plan.
type Allocation struct {
	SegmentID      string         `json:"segment_id"`
	SegmentKind    SegmentKind    `json:"segment_kind"`
	CurrentValue   float64        `json:"current_value"`
	SuggestedValue float64        `json:"suggested_value"`
	Delta          float64        `json:"delta"`
	DeltaPct       float64        `json:"delta_pct"`
	Band           AllocationBand `json:"band"`

	CurrentSpend   float64 `json:"current_spend"`
	CurrentSales   float64 `json:"current_sales"`
	ProjectedSpend float64 `json:"projected_spend"`
	ProjectedSales float64 `json:"projected_sales"`
	ProjectedROAS  float64 `json:"projected_roas"`

	MarginalReturn    float64 `json:"marginal_return"`
	Confidence        float64 `json:"confidence"`
	LowConfidence     bool    `json:"low_confidence"`
	BudgetConstrained bool    `json:"budget_constrained"`
	Rationale         string  `json:"rationale"`
}

// Changed reports whether the allocation moves the control value.
func (a *Allocation) Changed() bool {
	return a.SuggestedValue != a.CurrentValue
}

// ProjectedTotals is the aggregate projection of a plan.
type ProjectedTotals struct {
	Spend float64 `json:"spend"`
	Sales float64 `json:"sales"`
	ROAS  float64 `json:"roas"`
	ACoS  float64 `json:"acos"`
}

// AllocationPlan is a proposed or applied set of per-segment target values
// for one scope. At most one plan per scope is applied at a time.
type AllocationPlan struct {
	ID          string          `json:"id"`
	ScopeID     string          `json:"scope_id"`
	Status      PlanStatus      `json:"status"`
	TotalBudget float64         `json:"total_budget"`
	TargetROAS  float64         `json:"target_roas"`
	Bounds      Bounds          `json:"bounds"`
	Allocations []Allocation    `json:"allocations"`
	Projected   ProjectedTotals `json:"projected"`
	Current     ProjectedTotals `json:"current"`
	Unallocated float64         `json:"unallocated"`

	WindowStart  time.Time  `json:"window_start"`
	WindowEnd    time.Time  `json:"window_end"`
	GeneratedAt  time.Time  `json:"generated_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	BatchID      string     `json:"batch_id,omitempty"`
}

// Totals recomputes the aggregate projection from the allocations.
func (p *AllocationPlan) Totals() ProjectedTotals {
	var t ProjectedTotals
	for _, a := range p.Allocations {
		t.Spend += a.ProjectedSpend
		t.Sales += a.ProjectedSales
	}
	t.ROAS = SafeDiv(t.Sales, t.Spend)
	t.ACoS = SafeDiv(t.Spend, t.Sales) * 100
	return t
}

// WithinBudget checks the budget invariant with the given tolerance.
func (p *AllocationPlan) WithinBudget(tolerance float64) bool {
	return p.Totals().Spend <= p.TotalBudget+tolerance
}

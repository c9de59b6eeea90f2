package allocation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// AllocatorConfig controls the greedy allocator.
type AllocatorConfig struct {
	// StepPoints is the step for percent_points controls (placement adjustments).
	StepPoints float64 `yaml:"step_points" json:"step_points"`
	// StepPercent is the step for currency controls, as a percent of the current value.
	StepPercent float64 `yaml:"step_percent" json:"step_percent"`
	// Sensitivity scales how strongly spend responds to a control change.
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`

	// Band thresholds, as multiples of target ROAS.
	IncreaseAt     float64 `yaml:"increase_at" json:"increase_at"`
	HoldAt         float64 `yaml:"hold_at" json:"hold_at"`
	HalfDecreaseAt float64 `yaml:"half_decrease_at" json:"half_decrease_at"`

	// Exploratory treatment of segments with no spend history.
	ExploratoryPoints   float64 `yaml:"exploratory_points" json:"exploratory_points"`
	ExploratoryBid      float64 `yaml:"exploratory_bid" json:"exploratory_bid"`
	ExploratorySpendPct float64 `yaml:"exploratory_spend_pct" json:"exploratory_spend_pct"`

	// BudgetTolerance is the slack allowed on the budget invariant.
	BudgetTolerance float64 `yaml:"budget_tolerance" json:"budget_tolerance"`
}

// SegmentInput is everything the allocator knows about one segment. Spend
// and sales in Window are converted to per-period figures by the caller.
type SegmentInput struct {
	Segment  domain.Segment
	Spend    float64
	Sales    float64
	Estimate Estimate
}

// Allocator is the greedy constrained allocator.
type Allocator struct {
	cfg AllocatorConfig
}

// NewAllocator creates an allocator.
func NewAllocator(cfg AllocatorConfig) *Allocator {
	return &Allocator{cfg: cfg}
}

// Allocate distributes budget across inputs. The returned allocations are in
// processing order (highest marginal return first). The caller fills in the
// plan envelope. The sum of projected spends never exceeds budget, and bounds
// are snapped to the control precision before any value is clamped.
func (a *Allocator) Allocate(inputs []SegmentInput, budget, targetROAS float64, bounds domain.Bounds) []domain.Allocation {
	bounds = bounds.Snap()
	ordered := make([]SegmentInput, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool {
		mi, mj := ordered[i].Estimate.MarginalReturn, ordered[j].Estimate.MarginalReturn
		if mi != mj {
			return mi > mj
		}
		si, sj := math.Abs(ordered[i].Spend), math.Abs(ordered[j].Spend)
		if si != sj {
			return si > sj
		}
		return ordered[i].Segment.ID < ordered[j].Segment.ID
	})

	remaining := budget
	out := make([]domain.Allocation, 0, len(ordered))
	for _, in := range ordered {
		var alloc domain.Allocation
		if in.Spend <= 0 {
			alloc = a.exploratory(in, budget, remaining, bounds)
		} else {
			alloc = a.step(in, remaining, targetROAS, bounds)
		}
		remaining -= alloc.ProjectedSpend
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, alloc)
	}
	return out
}

// Band classifies a marginal return against the target.
func (a *Allocator) Band(marginal, targetROAS float64) domain.AllocationBand {
	ratio := domain.SafeDiv(marginal, targetROAS)
	switch {
	case ratio >= a.cfg.IncreaseAt:
		return domain.BandIncrease
	case ratio >= a.cfg.HoldAt:
		return domain.BandHold
	case ratio >= a.cfg.HalfDecreaseAt:
		return domain.BandDecreaseHalf
	}
	return domain.BandDecreaseFull
}

func (a *Allocator) step(in SegmentInput, remaining, targetROAS float64, bounds domain.Bounds) domain.Allocation {
	cur := in.Segment.ControlValue
	mr := in.Estimate.MarginalReturn
	band := a.Band(mr, targetROAS)
	unit := bounds.Unit

	var notes []string
	notes = append(notes, fmt.Sprintf("marginal return %.2f vs target %.2f (%s, %s)",
		mr, targetROAS, band, in.Estimate.Source))

	size := a.stepSize(cur, unit)
	target := cur
	switch band {
	case domain.BandIncrease:
		target = cur + size
	case domain.BandDecreaseHalf:
		target = cur - size/2
	case domain.BandDecreaseFull:
		target = cur - size
	}
	value, clipped := bounds.Clamp(domain.RoundControl(target, unit))
	if clipped {
		notes = append(notes, fmt.Sprintf("clipped to bounds [%g, %g]", bounds.Min, bounds.Max))
	}

	deltaPct := controlDeltaPct(cur, value, unit)
	projSpend := a.projectSpend(in.Spend, deltaPct)

	constrained := false
	if projSpend > remaining {
		constrained = true
		value = a.affordableValue(in, remaining, bounds)
		deltaPct = controlDeltaPct(cur, value, unit)
		projSpend = a.projectSpend(in.Spend, deltaPct)
		if projSpend > remaining {
			// Even the lower bound overshoots: delivery is capped by budget.
			projSpend = remaining
		}
		notes = append(notes, "budget-constrained")
	}
	projSales := math.Max(0, in.Sales+(projSpend-in.Spend)*mr)

	return domain.Allocation{
		SegmentID:         in.Segment.ID,
		SegmentKind:       in.Segment.Kind,
		CurrentValue:      cur,
		SuggestedValue:    value,
		Delta:             value - cur,
		DeltaPct:          deltaPct,
		Band:              band,
		CurrentSpend:      in.Spend,
		CurrentSales:      in.Sales,
		ProjectedSpend:    projSpend,
		ProjectedSales:    projSales,
		ProjectedROAS:     domain.SafeDiv(projSales, projSpend),
		MarginalReturn:    mr,
		Confidence:        in.Estimate.Confidence,
		LowConfidence:     in.Estimate.LowConfidence,
		BudgetConstrained: constrained,
		Rationale:         strings.Join(notes, "; "),
	}
}

// affordableValue returns the largest in-bounds control value whose projected
// spend fits the remaining budget, or the lower bound if none does.
func (a *Allocator) affordableValue(in SegmentInput, remaining float64, bounds domain.Bounds) float64 {
	cur := in.Segment.ControlValue
	if a.cfg.Sensitivity <= 0 || in.Spend <= 0 {
		return bounds.Min
	}
	maxDelta := (remaining/in.Spend - 1) * 100 / a.cfg.Sensitivity

	var v float64
	if bounds.Unit == domain.UnitPercentPoints {
		v = cur + maxDelta
	} else {
		if cur <= 0 {
			return bounds.Min
		}
		v = cur * (1 + maxDelta/100)
	}
	v = domain.FloorControl(v, bounds.Unit)
	v, _ = bounds.Clamp(v)
	return v
}

func (a *Allocator) exploratory(in SegmentInput, budget, remaining float64, bounds domain.Bounds) domain.Allocation {
	floor := a.cfg.ExploratoryBid
	if bounds.Unit == domain.UnitPercentPoints {
		floor = a.cfg.ExploratoryPoints
	}
	value, _ := bounds.Clamp(domain.RoundControl(floor, bounds.Unit))

	spend := math.Min(budget*a.cfg.ExploratorySpendPct/100, remaining)
	if spend < 0 {
		spend = 0
	}
	mr := in.Estimate.MarginalReturn
	sales := spend * mr

	notes := []string{fmt.Sprintf("no spend history; exploratory floor %g", value)}
	constrained := spend < budget*a.cfg.ExploratorySpendPct/100
	if constrained {
		notes = append(notes, "budget-constrained")
	}

	return domain.Allocation{
		SegmentID:         in.Segment.ID,
		SegmentKind:       in.Segment.Kind,
		CurrentValue:      in.Segment.ControlValue,
		SuggestedValue:    value,
		Delta:             value - in.Segment.ControlValue,
		DeltaPct:          controlDeltaPct(in.Segment.ControlValue, value, bounds.Unit),
		Band:              domain.BandExploratory,
		ProjectedSpend:    spend,
		ProjectedSales:    sales,
		ProjectedROAS:     domain.SafeDiv(sales, spend),
		MarginalReturn:    mr,
		Confidence:        in.Estimate.Confidence,
		LowConfidence:     true,
		BudgetConstrained: constrained,
		Rationale:         strings.Join(notes, "; "),
	}
}

func (a *Allocator) stepSize(cur float64, unit domain.ControlUnit) float64 {
	if unit == domain.UnitPercentPoints {
		return a.cfg.StepPoints
	}
	return math.Abs(cur) * a.cfg.StepPercent / 100
}

// projectSpend applies the linear spend-response model, floored at zero.
func (a *Allocator) projectSpend(spend, deltaPct float64) float64 {
	return math.Max(0, spend*(1+deltaPct/100*a.cfg.Sensitivity))
}

// controlDeltaPct is the control change expressed in percent: points for
// adjustments, relative change for currency values.
func controlDeltaPct(cur, next float64, unit domain.ControlUnit) float64 {
	if unit == domain.UnitPercentPoints {
		return next - cur
	}
	return domain.PctChange(cur, next)
}

package allocation_test

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
)

var placementBounds = domain.Bounds{Min: 0, Max: 900, Unit: domain.UnitPercentPoints}

func input(id string, cur, spend, sales, mr float64) allocation.SegmentInput {
	return allocation.SegmentInput{
		Segment:  domain.Segment{ID: id, Kind: domain.SegmentPlacement, ControlValue: cur},
		Spend:    spend,
		Sales:    sales,
		Estimate: allocation.Estimate{SegmentID: id, MarginalReturn: mr, Confidence: 0.6, Source: allocation.SourceTrailingROAS},
	}
}

func newAllocator() *allocation.Allocator {
	return allocation.NewAllocator(allocation.DefaultConfig().Allocator)
}

func TestAllocateIncreaseCappedAtUpperBound(t *testing.T) {
	out := newAllocator().Allocate([]allocation.SegmentInput{input("top", 895, 100, 400, 4.0)}, 1000, 3, placementBounds)

	a := out[0]
	if a.Band != domain.BandIncrease {
		t.Fatalf("band = %s, want increase", a.Band)
	}
	if a.SuggestedValue != 900 {
		t.Fatalf("suggested = %v, want 900", a.SuggestedValue)
	}
	if !strings.Contains(a.Rationale, "clipped") {
		t.Errorf("rationale should mention clipping: %q", a.Rationale)
	}
	if math.Abs(a.ProjectedSpend-101.5) > 1e-9 {
		t.Errorf("projected spend = %v, want 101.5", a.ProjectedSpend)
	}
	if math.Abs(a.ProjectedSales-406) > 1e-9 {
		t.Errorf("projected sales = %v, want 406", a.ProjectedSales)
	}
}

func TestAllocateBands(t *testing.T) {
	tests := []struct {
		mr        float64
		wantBand  domain.AllocationBand
		wantValue float64
	}{
		{3.9, domain.BandIncrease, 110},
		{3.0, domain.BandHold, 100},
		{2.0, domain.BandDecreaseHalf, 95},
		{1.0, domain.BandDecreaseFull, 90},
	}
	for _, tt := range tests {
		t.Run(string(tt.wantBand), func(t *testing.T) {
			out := newAllocator().Allocate([]allocation.SegmentInput{input("s", 100, 10, 30, tt.mr)}, 1000, 3, placementBounds)
			if out[0].Band != tt.wantBand {
				t.Fatalf("band = %s, want %s", out[0].Band, tt.wantBand)
			}
			if out[0].SuggestedValue != tt.wantValue {
				t.Fatalf("value = %v, want %v", out[0].SuggestedValue, tt.wantValue)
			}
		})
	}
}

func TestAllocateCurrencyStep(t *testing.T) {
	bounds := domain.Bounds{Min: 0.1, Max: 5, Unit: domain.UnitCurrency}
	in := input("kw", 1.00, 50, 250, 5)
	in.Segment.Kind = domain.SegmentKeyword

	out := newAllocator().Allocate([]allocation.SegmentInput{in}, 1000, 3, bounds)
	a := out[0]
	if a.SuggestedValue != 1.10 {
		t.Fatalf("suggested = %v, want 1.10", a.SuggestedValue)
	}
	if math.Abs(a.DeltaPct-10) > 1e-6 {
		t.Fatalf("delta pct = %v, want 10", a.DeltaPct)
	}
	if math.Abs(a.ProjectedSpend-51.5) > 1e-6 {
		t.Fatalf("projected spend = %v, want 51.5", a.ProjectedSpend)
	}
}

func TestAllocateBudgetConstrained(t *testing.T) {
	out := newAllocator().Allocate([]allocation.SegmentInput{
		input("a", 100, 100, 500, 5),
		input("b", 50, 60, 240, 4),
	}, 160, 3, placementBounds)

	if out[0].SegmentID != "a" || out[0].BudgetConstrained {
		t.Fatalf("first allocation should be unconstrained a, got %+v", out[0])
	}
	b := out[1]
	if !b.BudgetConstrained || !strings.Contains(b.Rationale, "budget-constrained") {
		t.Fatalf("b should be budget-constrained: %+v", b)
	}
	if b.SuggestedValue != 33 {
		t.Fatalf("b suggested = %v, want 33", b.SuggestedValue)
	}
	if total := out[0].ProjectedSpend + b.ProjectedSpend; total > 160 {
		t.Fatalf("projected spend %v exceeds budget", total)
	}
}

func TestAllocateLowerBoundUnaffordable(t *testing.T) {
	out := newAllocator().Allocate([]allocation.SegmentInput{
		input("a", 100, 100, 500, 5),
		input("b", 50, 60, 240, 4),
	}, 150, 3, placementBounds)

	b := out[1]
	if b.SuggestedValue != placementBounds.Min {
		t.Fatalf("suggested = %v, want lower bound", b.SuggestedValue)
	}
	if math.Abs(b.ProjectedSpend-47) > 1e-9 {
		t.Fatalf("projected spend = %v, want remaining budget 47", b.ProjectedSpend)
	}
	if math.Abs(b.ProjectedSales-188) > 1e-9 {
		t.Fatalf("projected sales = %v, want 188", b.ProjectedSales)
	}
}

func TestAllocateExploratory(t *testing.T) {
	in := input("new", 0, 0, 0, 2.5)
	in.Estimate.LowConfidence = true
	out := newAllocator().Allocate([]allocation.SegmentInput{in}, 500, 3, placementBounds)

	a := out[0]
	if a.Band != domain.BandExploratory || !a.LowConfidence {
		t.Fatalf("expected exploratory low-confidence allocation, got %+v", a)
	}
	if a.SuggestedValue != 10 {
		t.Fatalf("suggested = %v, want exploratory floor 10", a.SuggestedValue)
	}
	if a.ProjectedSpend != 10 {
		t.Fatalf("exploratory spend = %v, want 2%% of 500", a.ProjectedSpend)
	}
}

func TestAllocateTieBreakBySpend(t *testing.T) {
	out := newAllocator().Allocate([]allocation.SegmentInput{
		input("small", 100, 5, 15, 3),
		input("big", 100, 50, 150, 3),
		input("a-mid", 100, 20, 60, 3),
		input("b-mid", 100, 20, 60, 3),
	}, 1000, 3, placementBounds)

	var order []string
	for _, a := range out {
		order = append(order, a.SegmentID)
	}
	if got := strings.Join(order, ","); got != "big,a-mid,b-mid,small" {
		t.Fatalf("order = %s", got)
	}
}

func TestAllocateInvariants(t *testing.T) {
	var inputs []allocation.SegmentInput
	for i := 0; i < 40; i++ {
		cur := float64((i * 37) % 950)
		spend := float64(i%7) * 13
		mr := float64(i%9) * 0.7
		inputs = append(inputs, input(fmt.Sprintf("seg-%02d", i), cur, spend, spend*mr, mr))
	}
	for _, budget := range []float64{0, 25, 100, 400, 5000} {
		out := newAllocator().Allocate(inputs, budget, 2.5, placementBounds)
		var total float64
		for _, a := range out {
			total += a.ProjectedSpend
			if !placementBounds.Contains(a.SuggestedValue) {
				t.Fatalf("budget %v: %s suggested %v outside bounds", budget, a.SegmentID, a.SuggestedValue)
			}
			if math.IsNaN(a.ProjectedSales) || a.ProjectedSpend < 0 {
				t.Fatalf("budget %v: bad projection %+v", budget, a)
			}
		}
		if total > budget+0.01 {
			t.Fatalf("budget %v: projected spend %v over budget", budget, total)
		}
	}
}

func TestAllocateFractionalBounds(t *testing.T) {
	tests := []struct {
		name   string
		bounds domain.Bounds
		in     allocation.SegmentInput
		want   float64
	}{
		{
			name:   "points below fractional min",
			bounds: domain.Bounds{Min: 0.4, Max: 900, Unit: domain.UnitPercentPoints},
			in:     input("top", 5, 100, 50, 0.5),
			want:   1,
		},
		{
			name:   "currency min finer than cents",
			bounds: domain.Bounds{Min: 0.104, Max: 5, Unit: domain.UnitCurrency},
			in: allocation.SegmentInput{
				Segment:  domain.Segment{ID: "kw", Kind: domain.SegmentKeyword, ControlValue: 0.1},
				Spend:    20,
				Sales:    10,
				Estimate: allocation.Estimate{SegmentID: "kw", MarginalReturn: 0.5, Confidence: 0.6, Source: allocation.SourceTrailingROAS},
			},
			want: 0.11,
		},
		{
			name:   "points above fractional max",
			bounds: domain.Bounds{Min: 0, Max: 899.6, Unit: domain.UnitPercentPoints},
			in:     input("pdp", 895, 100, 400, 4),
			want:   899,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.bounds.Validate(); err != nil {
				t.Fatal(err)
			}
			a := newAllocator().Allocate([]allocation.SegmentInput{tt.in}, 1000, 3, tt.bounds)[0]
			if !tt.bounds.Contains(a.SuggestedValue) {
				t.Fatalf("suggested %v outside %+v", a.SuggestedValue, tt.bounds)
			}
			if math.Abs(a.SuggestedValue-tt.want) > 1e-9 {
				t.Fatalf("suggested = %v, want %v", a.SuggestedValue, tt.want)
			}
		})
	}
}

func TestAllocateExploratoryFractionalBounds(t *testing.T) {
	bounds := domain.Bounds{Min: 10.5, Max: 900, Unit: domain.UnitPercentPoints}
	a := newAllocator().Allocate([]allocation.SegmentInput{input("new", 0, 0, 0, 2)}, 500, 3, bounds)[0]
	if a.Band != domain.BandExploratory {
		t.Fatalf("band = %s, want exploratory", a.Band)
	}
	if a.SuggestedValue != 11 {
		t.Fatalf("suggested = %v, want 11", a.SuggestedValue)
	}
}

package suggestion_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/performance"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
)

type fakeSegments []domain.Segment

func (f fakeSegments) ListSegments(_ context.Context, scopeID string, kind domain.SegmentKind) ([]domain.Segment, error) {
	var out []domain.Segment
	for _, s := range f {
		if s.ScopeID == scopeID && (kind == "" || s.Kind == kind) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeSource []domain.PerformanceRecord

func (f fakeSource) Records(context.Context, []string, time.Time, time.Time, domain.Granularity) ([]domain.PerformanceRecord, error) {
	return f, nil
}

func TestGenerateRanksAndCaps(t *testing.T) {
	now := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	var segs fakeSegments
	var rows fakeSource
	// Five wasted keywords with rising spend: all pause (high)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("kw-%d", i)
		segs = append(segs, domain.Segment{ID: id, ScopeID: "acct", Kind: domain.SegmentKeyword, ControlValue: 1, State: domain.SegmentEnabled})
		rows = append(rows, domain.PerformanceRecord{SegmentID: id, PeriodStart: day, Clicks: 30, Spend: float64(60 + i)})
	}
	// One strong converter (medium) and one placement that is ignored
	segs = append(segs,
		domain.Segment{ID: "kw-strong", ScopeID: "acct", Kind: domain.SegmentKeyword, ControlValue: 1, State: domain.SegmentEnabled},
		domain.Segment{ID: "pl", ScopeID: "acct", Kind: domain.SegmentPlacement, State: domain.SegmentEnabled},
	)
	rows = append(rows,
		domain.PerformanceRecord{SegmentID: "kw-strong", PeriodStart: day, Clicks: 20, Orders: 5, Spend: 500, Sales: 5000},
		domain.PerformanceRecord{SegmentID: "pl", PeriodStart: day, Clicks: 30, Spend: 80},
	)

	cfg := suggestion.DefaultConfig()
	cfg.MaxSuggestions = 4
	svc := suggestion.NewService(segs, performance.NewAggregator(rows, ""), cfg)
	svc.SetClock(func() time.Time { return now })

	set, err := svc.Generate(context.Background(), "acct", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(set.Suggestions) != 4 || set.Truncated != 2 {
		t.Fatalf("expected 4 kept and 2 truncated, got %d/%d", len(set.Suggestions), set.Truncated)
	}
	want := []string{"kw-4", "kw-3", "kw-2", "kw-1"}
	for i, s := range set.Suggestions {
		if s.Segment.ID != want[i] || s.Priority != domain.PriorityHigh {
			t.Fatalf("position %d: got %s/%s, want %s/high", i, s.Segment.ID, s.Priority, want[i])
		}
	}
}

func TestGenerateRequiresScope(t *testing.T) {
	svc := suggestion.NewService(fakeSegments{}, performance.NewAggregator(fakeSource{}, ""), suggestion.DefaultConfig())
	if _, err := svc.Generate(context.Background(), "", time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error for empty scope")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := suggestion.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := suggestion.DefaultConfig()
	cfg.Rules.PauseSpend = 5
	if err := cfg.Validate(); err == nil {
		t.Fatal("pause below no-order threshold must be rejected")
	}
}

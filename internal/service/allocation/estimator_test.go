package allocation_test

import (
	"testing"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
)

func newEstimator() *allocation.Estimator {
	return allocation.NewEstimator(allocation.DefaultConfig().Estimator)
}

func window(clicks int64, spend, sales float64) domain.PerformanceWindow {
	w := domain.PerformanceWindow{SegmentID: "s", Impressions: clicks * 20, Clicks: clicks, Spend: spend, Sales: sales}
	w.Derive()
	return w
}

func series(spends, sales []float64) []domain.PerformanceWindow {
	out := make([]domain.PerformanceWindow, len(spends))
	for i := range spends {
		out[i] = domain.PerformanceWindow{Spend: spends[i], Sales: sales[i]}
	}
	return out
}

func TestEstimateNoData(t *testing.T) {
	est := newEstimator().Estimate(domain.PerformanceWindow{SegmentID: "s"}, nil, 2.2)
	if est.MarginalReturn != 2.2 || est.Source != allocation.SourceCampaignAverage || !est.LowConfidence {
		t.Fatalf("unexpected estimate %+v", est)
	}
	if est.Confidence != 0.1 {
		t.Fatalf("confidence = %v", est.Confidence)
	}
}

func TestEstimateSparseClicksFallsBack(t *testing.T) {
	est := newEstimator().Estimate(window(10, 20, 100), nil, 3.1)
	if est.MarginalReturn != 3.1 || !est.LowConfidence || est.Confidence != 0.3 {
		t.Fatalf("unexpected estimate %+v", est)
	}
}

func TestEstimateTrailingROAS(t *testing.T) {
	est := newEstimator().Estimate(window(50, 100, 350), nil, 1)
	if est.MarginalReturn != 3.5 || est.Source != allocation.SourceTrailingROAS || est.LowConfidence {
		t.Fatalf("unexpected estimate %+v", est)
	}
}

func TestEstimateCurveSlope(t *testing.T) {
	spends := []float64{10, 20, 30, 40, 50, 60, 70}
	sales := make([]float64, len(spends))
	for i, s := range spends {
		sales[i] = 2*s + 5
	}
	est := newEstimator().Estimate(window(200, 280, 595), series(spends, sales), 1)
	if est.Source != allocation.SourceCurveSlope {
		t.Fatalf("source = %s, want curve slope", est.Source)
	}
	if diff := est.MarginalReturn - 2; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("slope = %v, want 2", est.MarginalReturn)
	}
	if est.Confidence != 0.8 {
		t.Fatalf("confidence = %v", est.Confidence)
	}
}

func TestEstimateCurveRejected(t *testing.T) {
	tests := []struct {
		name   string
		spends []float64
		sales  []float64
	}{
		{"negative slope", []float64{10, 20, 30, 40, 50, 60, 70}, []float64{90, 80, 70, 60, 50, 40, 30}},
		{"constant spend", []float64{10, 10, 10, 10, 10, 10, 10}, []float64{10, 20, 30, 40, 50, 60, 70}},
		{"too few points", []float64{10, 20, 0, 0, 0, 0, 0}, []float64{20, 40, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := newEstimator().Estimate(window(100, 100, 250), series(tt.spends, tt.sales), 1)
			if est.Source != allocation.SourceTrailingROAS || est.MarginalReturn != 2.5 {
				t.Fatalf("expected trailing ROAS fallback, got %+v", est)
			}
		})
	}
}

func TestCampaignAverages(t *testing.T) {
	segs := []domain.Segment{
		{ID: "a", CampaignID: "c1"},
		{ID: "b", CampaignID: "c1"},
		{ID: "c", CampaignID: "c2"},
	}
	windows := map[string]domain.PerformanceWindow{
		"a": {Spend: 10, Sales: 40},
		"b": {Spend: 30, Sales: 80},
	}
	byCampaign, scope := allocation.CampaignAverages(segs, windows)
	if byCampaign["c1"] != 3 {
		t.Fatalf("c1 avg = %v", byCampaign["c1"])
	}
	if scope != 3 || byCampaign["c2"] != 3 {
		t.Fatalf("campaign without spend should use scope avg, got %v / %v", byCampaign["c2"], scope)
	}
}

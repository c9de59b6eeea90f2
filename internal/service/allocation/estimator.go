package allocation

import (
	"math"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// EstimateSource names the method that produced a marginal-return estimate.
type EstimateSource string

const (
	SourceTrailingROAS    EstimateSource = "trailing_roas"
	SourceCurveSlope      EstimateSource = "curve_slope"
	SourceCampaignAverage EstimateSource = "campaign_average"
)

// Confidence assigned per estimate source.
const (
	confidenceCurve    = 0.8
	confidenceTrailing = 0.6
	confidenceSparse   = 0.3
	confidenceNoData   = 0.1
)

// EstimatorConfig controls the marginal return estimator.
type EstimatorConfig struct {
	// MinClicks is the click count below which the segment's own ratio is
	// considered too noisy and the campaign average is used instead.
	MinClicks int64 `yaml:"min_clicks" json:"min_clicks"`
	// MinCurvePoints is the number of periods with spend needed to fit a
	// sales-vs-spend slope.
	MinCurvePoints int `yaml:"min_curve_points" json:"min_curve_points"`
}

// Estimate is the marginal return of one segment.
type Estimate struct {
	SegmentID      string         `json:"segment_id"`
	MarginalReturn float64        `json:"marginal_return"`
	Confidence     float64        `json:"confidence"`
	Source         EstimateSource `json:"source"`
	LowConfidence  bool           `json:"low_confidence"`
}

// Estimator derives marginal return from a segment's window and, when
// available, its per-period series.
type Estimator struct {
	cfg EstimatorConfig
}

// NewEstimator creates an estimator.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate returns the marginal return for a segment. fallback is the
// campaign-level average ROAS. A value is always returned.
func (e *Estimator) Estimate(w domain.PerformanceWindow, series []domain.PerformanceWindow, fallback float64) Estimate {
	est := Estimate{SegmentID: w.SegmentID}

	if w.Spend == 0 && w.Clicks == 0 && w.Impressions == 0 {
		est.MarginalReturn = fallback
		est.Confidence = confidenceNoData
		est.Source = SourceCampaignAverage
		est.LowConfidence = true
		return est
	}
	if w.Clicks < e.cfg.MinClicks {
		est.MarginalReturn = fallback
		est.Confidence = confidenceSparse
		est.Source = SourceCampaignAverage
		est.LowConfidence = true
		return est
	}
	if slope, ok := fitSlope(series, e.cfg.MinCurvePoints); ok {
		est.MarginalReturn = slope
		est.Confidence = confidenceCurve
		est.Source = SourceCurveSlope
		return est
	}
	est.MarginalReturn = w.ROAS
	est.Confidence = confidenceTrailing
	est.Source = SourceTrailingROAS
	return est
}

// fitSlope returns the least-squares slope of sales on spend across periods
// with spend. It fails when there are too few points, spend never varies, or
// the slope is negative or not finite.
func fitSlope(series []domain.PerformanceWindow, minPoints int) (float64, bool) {
	var xs, ys []float64
	for _, p := range series {
		if p.Spend > 0 {
			xs = append(xs, p.Spend)
			ys = append(ys, p.Sales)
		}
	}
	if minPoints < 2 {
		minPoints = 2
	}
	if len(xs) < minPoints {
		return 0, false
	}

	n := float64(len(xs))
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n

	var cov, varX float64
	for i := range xs {
		dx := xs[i] - mx
		cov += dx * (ys[i] - my)
		varX += dx * dx
	}
	if varX == 0 {
		return 0, false
	}
	slope := cov / varX
	if math.IsNaN(slope) || math.IsInf(slope, 0) || slope < 0 {
		return 0, false
	}
	return slope, true
}

// CampaignAverages returns ROAS per campaign id across the given segments,
// plus the scope-wide ROAS. Campaigns without spend fall back to the scope
// figure.
func CampaignAverages(segments []domain.Segment, windows map[string]domain.PerformanceWindow) (map[string]float64, float64) {
	type acc struct{ spend, sales float64 }
	byCampaign := map[string]*acc{}
	var scope acc
	for _, s := range segments {
		w := windows[s.ID]
		a, ok := byCampaign[s.CampaignID]
		if !ok {
			a = &acc{}
			byCampaign[s.CampaignID] = a
		}
		a.spend += w.Spend
		a.sales += w.Sales
		scope.spend += w.Spend
		scope.sales += w.Sales
	}
	scopeROAS := domain.SafeDiv(scope.sales, scope.spend)
	out := make(map[string]float64, len(byCampaign))
	for id, a := range byCampaign {
		if a.spend > 0 {
			out[id] = a.sales / a.spend
		} else {
			out[id] = scopeROAS
		}
	}
	return out, scopeROAS
}

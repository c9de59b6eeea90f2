package domain

import "time"

// EffectRating is the 5-level reporting grade of a tracked change.
type EffectRating string

const (
	RatingExcellent EffectRating = "excellent"
	RatingGood      EffectRating = "good"
	RatingNeutral   EffectRating = "neutral"
	RatingPoor      EffectRating = "poor"
	RatingVeryPoor  EffectRating = "very_poor"
)

// Recommendation is the keep/monitor/rollback decision for a tracked change.
type Recommendation string

const (
	RecommendKeep     Recommendation = "keep"
	RecommendMonitor  Recommendation = "monitor"
	RecommendRollback Recommendation = "rollback"
)

// MetricDeltas holds percent changes from the baseline to the current window.
type MetricDeltas struct {
	SpendPct float64 `json:"spend_pct"`
	SalesPct float64 `json:"sales_pct"`
	ROASPct  float64 `json:"roas_pct"`
	ACoSPct  float64 `json:"acos_pct"`
	CVRPct   float64 `json:"cvr_pct"`
	CTRPct   float64 `json:"ctr_pct"`
}

// ScoreBreakdown shows the weighted components that sum to the effect score.
type ScoreBreakdown struct {
	ROAS  float64 `json:"roas"`
	ACoS  float64 `json:"acos"`
	CVR   float64 `json:"cvr"`
	Sales float64 `json:"sales"`
}

// TrackingReport compares a change's pre-change and post-change windows.
type TrackingReport struct {
	RecordID       string            `json:"record_id"`
	SegmentID      string            `json:"segment_id"`
	Baseline       PerformanceWindow `json:"baseline"`
	Current        PerformanceWindow `json:"current"`
	Deltas         MetricDeltas      `json:"deltas"`
	Components     ScoreBreakdown    `json:"components"`
	Score          float64           `json:"score"`
	Rating         EffectRating      `json:"rating"`
	Recommendation Recommendation    `json:"recommendation"`
	Summary        string            `json:"summary"`
	EvaluatedAt    time.Time         `json:"evaluated_at"`
}

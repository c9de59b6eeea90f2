package tracking

import (
	"fmt"
	"math"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// Score weights and caps. Each component is the metric's percent change
// times its weight, clipped to ±cap.
const (
	roasWeight  = 0.4
	roasCap     = 40
	acosWeight  = 0.3
	acosCap     = 30
	cvrWeight   = 0.2
	cvrCap      = 20
	salesWeight = 0.1
	salesCap    = 10

	keepAt     = 20
	rollbackAt = -20
)

// Deltas computes percent changes between two windows. Spend and sales are
// compared per day so windows of different lengths stay comparable.
func Deltas(before, after domain.PerformanceWindow) domain.MetricDeltas {
	return domain.MetricDeltas{
		SpendPct: domain.PctChange(before.Spend/before.Days(), after.Spend/after.Days()),
		SalesPct: domain.PctChange(before.Sales/before.Days(), after.Sales/after.Days()),
		ROASPct:  domain.PctChange(before.ROAS, after.ROAS),
		ACoSPct:  domain.PctChange(before.ACoS, after.ACoS),
		CVRPct:   domain.PctChange(before.CVR, after.CVR),
		CTRPct:   domain.PctChange(before.CTR, after.CTR),
	}
}

// Score returns the weighted components and their sum, clipped to ±100.
// A falling ACoS counts in the change's favour.
func Score(d domain.MetricDeltas) (domain.ScoreBreakdown, float64) {
	b := domain.ScoreBreakdown{
		ROAS:  clip(d.ROASPct*roasWeight, roasCap),
		ACoS:  clip(-d.ACoSPct*acosWeight, acosCap),
		CVR:   clip(d.CVRPct*cvrWeight, cvrCap),
		Sales: clip(d.SalesPct*salesWeight, salesCap),
	}
	return b, clip(b.ROAS+b.ACoS+b.CVR+b.Sales, 100)
}

// Recommend maps a score to keep, monitor, or rollback.
func Recommend(score float64) domain.Recommendation {
	switch {
	case score >= keepAt:
		return domain.RecommendKeep
	case score <= rollbackAt:
		return domain.RecommendRollback
	}
	return domain.RecommendMonitor
}

// Rate grades a change on ROAS% − ACoS%.
func Rate(d domain.MetricDeltas) domain.EffectRating {
	combined := d.ROASPct - d.ACoSPct
	switch {
	case combined >= 20:
		return domain.RatingExcellent
	case combined >= 5:
		return domain.RatingGood
	case combined > -5:
		return domain.RatingNeutral
	case combined > -20:
		return domain.RatingPoor
	}
	return domain.RatingVeryPoor
}

func summarize(d domain.MetricDeltas, score float64, rec domain.Recommendation) string {
	return fmt.Sprintf("ROAS %+.1f%%, ACoS %+.1f%%, sales %+.1f%%, spend %+.1f%%; score %.1f → %s",
		d.ROASPct, d.ACoSPct, d.SalesPct, d.SpendPct, score, rec)
}

func clip(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

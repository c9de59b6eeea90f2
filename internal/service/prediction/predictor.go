package prediction

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/spend-optimizer/internal/domain"
)

// Config enumerates every option of the predictor.
type Config struct {
	Horizons          []domain.Horizon `yaml:"horizons" json:"horizons"`
	BaseConfidence    float64          `yaml:"base_confidence" json:"base_confidence"`
	PerItemConfidence float64          `yaml:"per_item_confidence" json:"per_item_confidence"`
	MaxConfidence     float64          `yaml:"max_confidence" json:"max_confidence"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Horizons: []domain.Horizon{
			{Label: "7d", Periods: 7, Decay: 0.3},
			{Label: "14d", Periods: 14, Decay: 0.6},
			{Label: "30d", Periods: 30, Decay: 1.0},
		},
		BaseConfidence:    0.4,
		PerItemConfidence: 0.05,
		MaxConfidence:     0.85,
	}
}

// Validate checks the configuration. Horizons must be strictly increasing
// in length with non-decreasing decay.
func (c Config) Validate() error {
	if len(c.Horizons) == 0 {
		return fmt.Errorf("prediction: at least one horizon is required")
	}
	for i, h := range c.Horizons {
		if h.Label == "" || h.Periods <= 0 {
			return fmt.Errorf("prediction: horizon %d needs a label and periods > 0", i)
		}
		if h.Decay <= 0 || h.Decay > 1 {
			return fmt.Errorf("prediction: horizon %s decay must be within (0, 1]", h.Label)
		}
		if i > 0 {
			prev := c.Horizons[i-1]
			if h.Periods <= prev.Periods || h.Decay < prev.Decay {
				return fmt.Errorf("prediction: horizons must grow in periods with non-decreasing decay")
			}
		}
	}
	if c.MaxConfidence <= 0 || c.MaxConfidence > 1 {
		return fmt.Errorf("prediction: max_confidence must be within (0, 1]")
	}
	if c.BaseConfidence < 0 || c.PerItemConfidence < 0 {
		return fmt.Errorf("prediction: confidence terms must be >= 0")
	}
	return nil
}

// Input is what the predictor projects from: a per-period baseline and the
// per-period impact of each contributing change.
type Input struct {
	ScopeID    string
	SourceKind domain.PredictionSource
	SourceID   string
	Baseline   domain.Projection
	Impacts    []domain.ExpectedImpact
}

// Predictor is pure: it never reads or writes storage.
type Predictor struct {
	cfg Config
}

// NewPredictor creates a predictor.
func NewPredictor(cfg Config) *Predictor {
	return &Predictor{cfg: cfg}
}

// Predict returns one record per configured horizon.
func (p *Predictor) Predict(in Input, now time.Time) []domain.PredictionRecord {
	var dSpend, dSales float64
	n := 0
	for _, imp := range in.Impacts {
		if imp.SpendDelta == 0 && imp.SalesDelta == 0 {
			continue
		}
		dSpend += imp.SpendDelta
		dSales += imp.SalesDelta
		n++
	}
	conf := math.Min(p.cfg.MaxConfidence, p.cfg.BaseConfidence+p.cfg.PerItemConfidence*float64(n))

	out := make([]domain.PredictionRecord, 0, len(p.cfg.Horizons))
	for _, h := range p.cfg.Horizons {
		periods := float64(h.Periods)
		base := scale(in.Baseline, periods)
		proj := domain.Projection{
			Spend: math.Max(0, (in.Baseline.Spend+dSpend*h.Decay)*periods),
			Sales: math.Max(0, (in.Baseline.Sales+dSales*h.Decay)*periods),
		}
		proj.ROAS = domain.SafeDiv(proj.Sales, proj.Spend)
		proj.ACoS = domain.SafeDiv(proj.Spend, proj.Sales) * 100

		rec := domain.PredictionRecord{
			ID:          uuid.New().String(),
			ScopeID:     in.ScopeID,
			SourceKind:  in.SourceKind,
			SourceID:    in.SourceID,
			Horizon:     h.Label,
			Periods:     h.Periods,
			Baseline:    base,
			Projected:   proj,
			SpendChange: domain.PctChange(base.Spend, proj.Spend),
			SalesChange: domain.PctChange(base.Sales, proj.Sales),
			ROASChange:  domain.PctChange(base.ROAS, proj.ROAS),
			ACoSChange:  domain.PctChange(base.ACoS, proj.ACoS),
			Confidence:  conf * h.Decay,
			CreatedAt:   now,
		}
		rec.Rationale = fmt.Sprintf("%d changes at %.0f%% ramp over %d periods: spend %+.1f%%, sales %+.1f%%, ROAS %.2f → %.2f",
			n, h.Decay*100, h.Periods, rec.SpendChange, rec.SalesChange, base.ROAS, proj.ROAS)
		out = append(out, rec)
	}
	return out
}

func scale(p domain.Projection, periods float64) domain.Projection {
	out := domain.Projection{Spend: p.Spend * periods, Sales: p.Sales * periods}
	out.ROAS = domain.SafeDiv(out.Sales, out.Spend)
	out.ACoS = domain.SafeDiv(out.Spend, out.Sales) * 100
	return out
}

// PlanInput converts an allocation plan into predictor input. Each row's
// impact is its projected minus current per-period figures.
func PlanInput(plan *domain.AllocationPlan) Input {
	in := Input{
		ScopeID:    plan.ScopeID,
		SourceKind: domain.PredictionForPlan,
		SourceID:   plan.ID,
		Baseline:   domain.Projection{Spend: plan.Current.Spend, Sales: plan.Current.Sales},
	}
	for _, a := range plan.Allocations {
		in.Impacts = append(in.Impacts, domain.ExpectedImpact{
			SpendDelta: a.ProjectedSpend - a.CurrentSpend,
			SalesDelta: a.ProjectedSales - a.CurrentSales,
		})
	}
	return in
}

// SuggestionInput converts executed suggestions into predictor input for a
// batch. baseline is the per-period figure of the affected segments.
func SuggestionInput(scopeID, batchID string, baseline domain.Projection, suggestions []domain.Suggestion) Input {
	in := Input{
		ScopeID:    scopeID,
		SourceKind: domain.PredictionForBatch,
		SourceID:   batchID,
		Baseline:   baseline,
	}
	for _, s := range suggestions {
		if s.Impact != nil {
			in.Impacts = append(in.Impacts, *s.Impact)
		}
	}
	return in
}

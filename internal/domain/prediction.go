package domain

import "time"

// PredictionSource says what a prediction was made for.
type PredictionSource string

const (
	PredictionForPlan  PredictionSource = "plan"
	PredictionForBatch PredictionSource = "batch"
)

// Horizon is a named projection length with its ramp-in decay multiplier.
type Horizon struct {
	Label   string  `json:"label" yaml:"label"`
	Periods int     `json:"periods" yaml:"periods"`
	Decay   float64 `json:"decay" yaml:"decay"`
}

// Projection is the set of metrics projected over a horizon.
type Projection struct {
	Spend float64 `json:"spend"`
	Sales float64 `json:"sales"`
	ROAS  float64 `json:"roas"`
	ACoS  float64 `json:"acos"`
}

// PredictionRecord is the projected outcome of a plan or batch at one horizon.
type PredictionRecord struct {
	ID          string           `json:"id"`
	ScopeID     string           `json:"scope_id"`
	SourceKind  PredictionSource `json:"source_kind"`
	SourceID    string           `json:"source_id"`
	Horizon     string           `json:"horizon"`
	Periods     int              `json:"periods"`
	Baseline    Projection       `json:"baseline"`
	Projected   Projection       `json:"projected"`
	SpendChange float64          `json:"spend_change_pct"`
	SalesChange float64          `json:"sales_change_pct"`
	ROASChange  float64          `json:"roas_change_pct"`
	ACoSChange  float64          `json:"acos_change_pct"`
	Confidence  float64          `json:"confidence"`
	Rationale   string           `json:"rationale"`
	CreatedAt   time.Time        `json:"created_at"`
}

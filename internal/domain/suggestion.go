package domain

import "time"

// Priority ranks a suggestion for review.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns a sort key where lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	}
	return 2
}

// ExpectedImpact is a per-period estimate of what a change will do.
type ExpectedImpact struct {
	SpendDelta float64 `json:"spend_delta"`
	SalesDelta float64 `json:"sales_delta"`
	ACoSDelta  float64 `json:"acos_delta"`
	ROASDelta  float64 `json:"roas_delta"`
}

// Suggestion is a discrete rule-driven action for one keyword, product
// target, or search term. Suggestions are not budget-aware.
type Suggestion struct {
	Segment        Segment           `json:"segment"`
	Action         ActionType        `json:"action"`
	CurrentValue   float64           `json:"current_value"`
	SuggestedValue float64           `json:"suggested_value"`
	Priority       Priority          `json:"priority"`
	Rule           string            `json:"rule"`
	Reason         string            `json:"reason"`
	Window         PerformanceWindow `json:"window"`
	Impact         *ExpectedImpact   `json:"impact,omitempty"`
}

// SuggestionSet is the output of one suggestion run over a scope.
type SuggestionSet struct {
	ID          string       `json:"id"`
	ScopeID     string       `json:"scope_id"`
	Suggestions []Suggestion `json:"suggestions"`
	Truncated   int          `json:"truncated"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	GeneratedAt time.Time    `json:"generated_at"`
}

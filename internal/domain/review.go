package domain

import "time"

// ReviewStatus is the state of a scheduled review.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewCompleted ReviewStatus = "completed"
	ReviewSkipped   ReviewStatus = "skipped"
)

// ReviewSchedule links a prediction to the time at which the effect of the
// executed batch should be re-evaluated.
type ReviewSchedule struct {
	ID           string       `json:"id"`
	ScopeID      string       `json:"scope_id"`
	PredictionID string       `json:"prediction_id"`
	BatchID      string       `json:"batch_id"`
	Horizon      string       `json:"horizon"`
	ScheduledAt  time.Time    `json:"scheduled_at"`
	Status       ReviewStatus `json:"status"`
	Summary      string       `json:"summary,omitempty"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsDue returns true if the review is pending and its time has come.
func (r *ReviewSchedule) IsDue(now time.Time) bool {
	return r.Status == ReviewPending && !r.ScheduledAt.After(now)
}

package domain

import (
	"fmt"
	"time"
)

// ActionType is the kind of mutation sent to the ad network.
type ActionType string

const (
	ActionSetBid         ActionType = "set_bid"
	ActionSetAdjustment  ActionType = "set_adjustment"
	ActionSetBudget      ActionType = "set_budget"
	ActionPause          ActionType = "pause"
	ActionEnable         ActionType = "enable"
	ActionNegativeExact  ActionType = "negative_exact"
	ActionNegativePhrase ActionType = "negative_phrase"
	ActionRemoveNegative ActionType = "remove_negative"
	ActionIncreaseBid    ActionType = "increase_bid"
	ActionDecreaseBid    ActionType = "decrease_bid"
)

// SetsValue reports whether the action carries a numeric control value.
func (a ActionType) SetsValue() bool {
	switch a {
	case ActionSetBid, ActionSetAdjustment, ActionSetBudget, ActionIncreaseBid, ActionDecreaseBid:
		return true
	}
	return false
}

// Inverse returns the action that undoes a.
func (a ActionType) Inverse() ActionType {
	switch a {
	case ActionPause:
		return ActionEnable
	case ActionEnable:
		return ActionPause
	case ActionNegativeExact, ActionNegativePhrase:
		return ActionRemoveNegative
	case ActionIncreaseBid, ActionDecreaseBid:
		return ActionSetBid
	}
	return a
}

// ControlActionFor returns the value-setting action natural to a segment kind.
func ControlActionFor(k SegmentKind) ActionType {
	switch k {
	case SegmentPlacement:
		return ActionSetAdjustment
	case SegmentCampaign:
		return ActionSetBudget
	}
	return ActionSetBid
}

// RecordStatus enumerates ledger entry states.
type RecordStatus string

const (
	RecordPending    RecordStatus = "pending"
	RecordApplied    RecordStatus = "applied"
	RecordFailed     RecordStatus = "failed"
	RecordRolledBack RecordStatus = "rolled_back"
)

// CanTransition reports whether a ledger entry may move from s to next.
// Only the status moves; the core values of a record never change.
func (s RecordStatus) CanTransition(next RecordStatus) bool {
	switch s {
	case RecordPending:
		return next == RecordApplied || next == RecordFailed
	case RecordApplied:
		return next == RecordRolledBack
	}
	return false
}

// ExecutionRecord is an append-only ledger entry for one applied (or
// attempted) change.
type ExecutionRecord struct {
	ID            string       `json:"id"`
	BatchID       string       `json:"batch_id"`
	ScopeID       string       `json:"scope_id"`
	SegmentID     string       `json:"segment_id"`
	SegmentKind   SegmentKind  `json:"segment_kind"`
	Action        ActionType   `json:"action"`
	PreviousValue float64      `json:"previous_value"`
	NewValue      float64      `json:"new_value"`
	ChangePct     float64      `json:"change_pct"`
	Reason        string       `json:"reason"`
	Status        RecordStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
	ExecutedAt    time.Time    `json:"executed_at"`
	RollbackOf    string       `json:"rollback_of,omitempty"`
}

// RollbackReason is the reason text written on a reversing record.
func RollbackReason(originalID string) string {
	return fmt.Sprintf("rollback of #%s", originalID)
}

// TrackingState is the tracking annotation of a ledger entry. It is either
// Untracked or Tracked; the record itself is never edited to carry it.
type TrackingState interface {
	isTrackingState()
}

// Untracked means the effect tracker has not produced a report yet.
type Untracked struct{}

// Tracked holds the report produced by the effect tracker.
type Tracked struct {
	Report    TrackingReport `json:"report"`
	TrackedAt time.Time      `json:"tracked_at"`
}

func (Untracked) isTrackingState() {}
func (Tracked) isTrackingState()   {}

// BatchStatus enumerates the states of an execution batch.
type BatchStatus string

const (
	BatchPending            BatchStatus = "pending"
	BatchExecuting          BatchStatus = "executing"
	BatchCompleted          BatchStatus = "completed"
	BatchPartiallyCompleted BatchStatus = "partially_completed"
	BatchFailed             BatchStatus = "failed"
	BatchCancelled          BatchStatus = "cancelled"
)

// IsTerminal returns true if the batch is in a final state.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchCompleted, BatchPartiallyCompleted, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// BatchSource says what produced a batch.
type BatchSource string

const (
	SourcePlan        BatchSource = "plan"
	SourceSuggestions BatchSource = "suggestions"
	SourceRollback    BatchSource = "rollback"
)

// ExecutionBatch groups the records written by one execution run.
type ExecutionBatch struct {
	ID          string            `json:"id"`
	ScopeID     string            `json:"scope_id"`
	Source      BatchSource       `json:"source"`
	SourceID    string            `json:"source_id,omitempty"`
	Status      BatchStatus       `json:"status"`
	Total       int               `json:"total"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Baseline    PerformanceWindow `json:"baseline"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ExecutionItem is one change requested of the execution engine.
type ExecutionItem struct {
	Segment  Segment    `json:"segment"`
	Action   ActionType `json:"action"`
	NewValue float64    `json:"new_value"`
	Reason   string     `json:"reason"`
}

// ExecutionSummary is returned to callers after a batch finishes. Partial
// success is always reported with explicit counts.
type ExecutionSummary struct {
	Batch   ExecutionBatch    `json:"batch"`
	Records []ExecutionRecord `json:"records"`
}

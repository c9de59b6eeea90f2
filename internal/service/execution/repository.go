package execution

import (
	"context"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// Ledger is the append-only store of execution records. Records are never
// updated except for status transitions keyed by id.
type Ledger interface {
	// AppendRecord inserts a new record.
	AppendRecord(ctx context.Context, rec *domain.ExecutionRecord) error

	// GetRecord returns a record. Returns ErrNotFound if it doesn't exist.
	GetRecord(ctx context.Context, id string) (*domain.ExecutionRecord, error)

	// TransitionRecord moves a record's status from one value to another and
	// sets its error text. Returns ErrInvalidTransition if the stored status
	// is not from.
	TransitionRecord(ctx context.Context, id string, from, to domain.RecordStatus, errMsg string) error

	// ListByBatch returns a batch's records in execution order.
	ListByBatch(ctx context.Context, batchID string) ([]domain.ExecutionRecord, error)

	// History returns a scope's records ordered by ExecutedAt then id.
	// An empty segmentID returns every segment.
	History(ctx context.Context, scopeID, segmentID string) ([]domain.ExecutionRecord, error)
}

// BatchRepository stores execution batches.
type BatchRepository interface {
	CreateBatch(ctx context.Context, b *domain.ExecutionBatch) error
	GetBatch(ctx context.Context, id string) (*domain.ExecutionBatch, error)
	UpdateBatch(ctx context.Context, b *domain.ExecutionBatch) error
	ListBatches(ctx context.Context, scopeID string, limit int) ([]domain.ExecutionBatch, error)
}

// SegmentStore reads segments and records their control value after a
// successful mutation.
type SegmentStore interface {
	GetSegment(ctx context.Context, id string) (*domain.Segment, error)
	UpdateSegmentControl(ctx context.Context, id string, value float64, state domain.SegmentState) error
}

// Mutator applies a change on the ad network. It is the only side effect
// outside this service's own storage.
type Mutator interface {
	Apply(ctx context.Context, seg domain.Segment, action domain.ActionType, value float64) error
}

// Observer receives per-mutation timings. It may be nil.
type Observer interface {
	MutationObserved(action domain.ActionType, ok bool, seconds float64)
}

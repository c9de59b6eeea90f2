package allocation

import (
	"context"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// PlanRepository defines the data access contract for allocation plans.
// Implementations must be safe for concurrent use. Plans are never deleted.
type PlanRepository interface {
	// Create inserts a new plan.
	Create(ctx context.Context, p *domain.AllocationPlan) error

	// Get returns a single plan. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.AllocationPlan, error)

	// ListByScope returns the scope's plans, newest first.
	ListByScope(ctx context.Context, scopeID string, limit int) ([]domain.AllocationPlan, error)

	// UpdateStatus moves a plan from one status to another. Returns
	// ErrInvalidTransition if the stored status is not from.
	UpdateStatus(ctx context.Context, id string, from, to domain.PlanStatus, at time.Time) error

	// Apply marks an approved plan applied and, in the same unit of work,
	// supersedes whichever plan of the scope was applied before.
	Apply(ctx context.Context, id, batchID string, at time.Time) error
}

// SegmentLister reads the segments of a scope.
type SegmentLister interface {
	// ListSegments returns the non-archived segments of a scope, optionally
	// restricted to one kind (empty kind means all).
	ListSegments(ctx context.Context, scopeID string, kind domain.SegmentKind) ([]domain.Segment, error)
}

package engine

import (
	"errors"

	"github.com/ignite/spend-optimizer/internal/service/execution"
)

var (
	// ErrPlanNotApproved is returned when executing a plan that is not approved.
	ErrPlanNotApproved = errors.New("plan is not approved")

	// ErrNothingToExecute is returned when a plan or selection has no changes.
	ErrNothingToExecute = errors.New("nothing to execute")

	// ErrScopeConflict is returned while another batch is executing for the scope.
	ErrScopeConflict = execution.ErrScopeConflict
)

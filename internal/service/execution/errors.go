package execution

import "errors"

// Sentinel errors for the execution service layer.
var (
	ErrNotFound          = errors.New("execution record not found")
	ErrBatchNotFound     = errors.New("execution batch not found")
	ErrInvalidTransition = errors.New("invalid record status transition")
	ErrScopeConflict     = errors.New("another execution is in flight for this scope")
	ErrEmptyBatch        = errors.New("batch has no items")
	ErrNotRollbackable   = errors.New("record is not in a rollbackable state")
	ErrRollbackFailed    = errors.New("rollback failed")
	ErrMutationTimeout   = errors.New("mutation timed out, outcome unknown")
)

package allocation

import "errors"

// Sentinel errors for the allocation service layer.
var (
	ErrNotFound          = errors.New("plan not found")
	ErrInvalidTransition = errors.New("invalid plan status transition")
	ErrNoSegments        = errors.New("scope has no segments to allocate")
	ErrInvalidRequest    = errors.New("invalid plan request")
)

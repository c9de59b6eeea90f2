// Package execution applies approved plans and suggestion sets through the
// external Mutator and keeps the append-only execution ledger.
//
// Each batch moves pending → executing → completed, partially_completed,
// failed or cancelled. Items for different segments run concurrently up to
// Config.Concurrency; items for the same segment run in order. Every attempt
// leaves a ledger record whose core values never change afterwards; only
// its status moves (pending → applied | failed, applied → rolled_back).
//
// At most one batch per scope is in flight, enforced with a distlock.
package execution

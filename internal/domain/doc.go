// Package domain holds the optimizer's value types: segments and their
// control values, performance rows and windows, allocation plans,
// suggestions, predictions, the execution ledger and review schedules.
//
// The ledger is history. An ExecutionRecord is written once with the values
// before and after a change; later facts about it (tracking results, a
// rollback) live in separate rows keyed by the record ID. TrackingState is
// the sum type for that annotation: Untracked or Tracked(report).
//
// Nothing here talks to a database, the ad network or the clock. Methods
// are limited to validation and derived metrics, and the package imports
// no other internal/ package.
package domain

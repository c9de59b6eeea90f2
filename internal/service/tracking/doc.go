// Package tracking measures the effect of an applied change by comparing the
// segment's performance before the change with its performance after an
// attribution delay, and recommends keep, monitor, or rollback.
//
// Reports are stored as annotations keyed by ledger record id; the ledger
// itself is never edited. Tracking the same record twice returns the stored
// report.
package tracking

// Package performance aggregates raw per-segment performance rows into
// windows and per-period series.
//
// Windows are derived on demand from the injected Source every time they are
// requested. Nothing in this package caches or persists aggregated metrics,
// so a window can never be stale relative to the rows it was built from.
// Missing rows count as zero.
package performance

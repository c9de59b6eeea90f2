package worker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

// Retention windows. The execution ledger, predictions and tracking
// annotations are never deleted.
const (
	DefaultRetentionInterval = 6 * time.Hour

	// Proposed plans nobody approved.
	staleProposalAge   = 30 * 24 * time.Hour
	// Suggestion sets that were never executed.
	staleSuggestionAge = 30 * 24 * time.Hour

	retentionBatchSize = 5000
)

// RetentionWorker removes abandoned proposals from the database.
type RetentionWorker struct {
	db       *sql.DB
	interval time.Duration
	log      *logger.Logger
}

// NewRetentionWorker creates a retention worker with the default interval.
func NewRetentionWorker(db *sql.DB) *RetentionWorker {
	return &RetentionWorker{db: db, interval: DefaultRetentionInterval, log: logger.Component("retention")}
}

// Start runs a cleanup immediately and then every interval until ctx is
// cancelled.
func (rw *RetentionWorker) Start(ctx context.Context) {
	rw.log.Info("starting", "interval", rw.interval.String())
	rw.Cleanup(ctx)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rw.log.Info("stopping")
			return
		case <-ticker.C:
			rw.Cleanup(ctx)
		}
	}
}

// Cleanup runs one retention cycle and returns the number of rows removed.
func (rw *RetentionWorker) Cleanup(ctx context.Context) int64 {
	plans := rw.batchDelete(ctx, "opt_plans", `
		DELETE FROM opt_plans
		WHERE id IN (
			SELECT id FROM opt_plans
			WHERE status = 'proposed' AND generated_at < $1
			LIMIT $2
		)`, staleProposalAge)

	sets := rw.batchDelete(ctx, "opt_suggestion_sets", `
		DELETE FROM opt_suggestion_sets
		WHERE id IN (
			SELECT s.id FROM opt_suggestion_sets s
			WHERE s.generated_at < $1
			  AND NOT EXISTS (
				SELECT 1 FROM opt_execution_batches b
				WHERE b.source = 'suggestions' AND b.source_id = s.id::text
			  )
			LIMIT $2
		)`, staleSuggestionAge)

	if plans+sets > 0 {
		rw.log.Info("cleanup done", "plans", plans, "suggestion_sets", sets)
	}
	return plans + sets
}

func (rw *RetentionWorker) batchDelete(ctx context.Context, table, query string, age time.Duration) int64 {
	var total int64
	cutoff := time.Now().Add(-age)
	for ctx.Err() == nil {
		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := rw.db.ExecContext(queryCtx, query, cutoff, retentionBatchSize)
		cancel()
		if err != nil {
			if isUndefinedTable(err) {
				rw.log.Warn("table missing, skipping", "table", table)
			} else {
				rw.log.Error("delete failed", "table", table, "error", err.Error())
			}
			return total
		}
		affected, _ := res.RowsAffected()
		total += affected
		if affected < retentionBatchSize {
			return total
		}
	}
	return total
}

// isUndefinedTable reports SQLSTATE 42P01, which happens before
// migrations have run.
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}

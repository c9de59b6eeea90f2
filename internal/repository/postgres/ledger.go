package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/execution"
)

// LedgerRepo implements execution.Ledger and execution.BatchRepository.
// Records are inserted once; only their status and error columns are ever
// updated.
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed execution ledger.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

const recordColumns = `id, batch_id, scope_id, segment_id, segment_kind, action, previous_value, new_value,
		       change_pct, reason, status, error, executed_at, COALESCE(rollback_of::text, '')`

func (r *LedgerRepo) AppendRecord(ctx context.Context, rec *domain.ExecutionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO opt_execution_records (id, batch_id, scope_id, segment_id, segment_kind, action,
		    previous_value, new_value, change_pct, reason, status, error, executed_at, rollback_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, '')::uuid)
	`, rec.ID, rec.BatchID, rec.ScopeID, rec.SegmentID, rec.SegmentKind, rec.Action,
		rec.PreviousValue, rec.NewValue, rec.ChangePct, rec.Reason, rec.Status, rec.Error, rec.ExecutedAt, rec.RollbackOf)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...interface{}) error }) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	err := row.Scan(&rec.ID, &rec.BatchID, &rec.ScopeID, &rec.SegmentID, &rec.SegmentKind, &rec.Action,
		&rec.PreviousValue, &rec.NewValue, &rec.ChangePct, &rec.Reason, &rec.Status, &rec.Error,
		&rec.ExecutedAt, &rec.RollbackOf)
	return rec, err
}

func (r *LedgerRepo) GetRecord(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM opt_execution_records WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, execution.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution record: %w", err)
	}
	return &rec, nil
}

func (r *LedgerRepo) TransitionRecord(ctx context.Context, id string, from, to domain.RecordStatus, errMsg string) error {
	if !from.CanTransition(to) {
		return execution.ErrInvalidTransition
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE opt_execution_records
		SET status = $3, error = CASE WHEN $4 = '' THEN error ELSE $4 END
		WHERE id = $1 AND status = $2
	`, id, from, to, errMsg)
	if err != nil {
		return fmt.Errorf("transition record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM opt_execution_records WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check record: %w", err)
		}
		if !exists {
			return execution.ErrNotFound
		}
		return execution.ErrInvalidTransition
	}
	return nil
}

func (r *LedgerRepo) queryRecords(ctx context.Context, q string, args ...interface{}) ([]domain.ExecutionRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution records: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.ExecutionRecord, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM opt_execution_records
		WHERE batch_id = $1
		ORDER BY executed_at, id
	`, batchID)
}

func (r *LedgerRepo) History(ctx context.Context, scopeID, segmentID string) ([]domain.ExecutionRecord, error) {
	if segmentID == "" {
		return r.queryRecords(ctx, `
			SELECT `+recordColumns+`
			FROM opt_execution_records
			WHERE scope_id = $1
			ORDER BY executed_at, id
		`, scopeID)
	}
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM opt_execution_records
		WHERE scope_id = $1 AND segment_id = $2
		ORDER BY executed_at, id
	`, scopeID, segmentID)
}

// =============================================================================
// Batches
// =============================================================================

const batchColumns = `id, scope_id, source, source_id, status, total, succeeded, failed, skipped,
		       baseline, created_at, started_at, completed_at`

func (r *LedgerRepo) CreateBatch(ctx context.Context, b *domain.ExecutionBatch) error {
	baseline, err := json.Marshal(b.Baseline)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO opt_execution_batches (id, scope_id, source, source_id, status, total,
		    succeeded, failed, skipped, baseline, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.ScopeID, b.Source, b.SourceID, b.Status, b.Total,
		b.Succeeded, b.Failed, b.Skipped, baseline, b.CreatedAt, nullTime(b.StartedAt), nullTime(b.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *LedgerRepo) UpdateBatch(ctx context.Context, b *domain.ExecutionBatch) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE opt_execution_batches
		SET status = $2, succeeded = $3, failed = $4, skipped = $5, started_at = $6, completed_at = $7
		WHERE id = $1
	`, b.ID, b.Status, b.Succeeded, b.Failed, b.Skipped, nullTime(b.StartedAt), nullTime(b.CompletedAt))
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return execution.ErrBatchNotFound
	}
	return nil
}

func scanBatch(row interface{ Scan(...interface{}) error }) (*domain.ExecutionBatch, error) {
	var (
		b                    domain.ExecutionBatch
		baseline             []byte
		started, completedAt sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.ScopeID, &b.Source, &b.SourceID, &b.Status, &b.Total,
		&b.Succeeded, &b.Failed, &b.Skipped, &baseline, &b.CreatedAt, &started, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(baseline, &b.Baseline); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	b.StartedAt = timePtr(started)
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

func (r *LedgerRepo) GetBatch(ctx context.Context, id string) (*domain.ExecutionBatch, error) {
	b, err := scanBatch(r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM opt_execution_batches WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, execution.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *LedgerRepo) ListBatches(ctx context.Context, scopeID string, limit int) ([]domain.ExecutionBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM opt_execution_batches
		WHERE scope_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

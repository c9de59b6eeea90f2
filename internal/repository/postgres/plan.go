package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
)

// PlanRepo implements allocation.PlanRepository against PostgreSQL.
type PlanRepo struct{ db *sql.DB }

// NewPlanRepo creates a Postgres-backed plan repository.
func NewPlanRepo(db *sql.DB) *PlanRepo { return &PlanRepo{db: db} }

const planColumns = `id, scope_id, status, total_budget, target_roas, bounds, allocations,
		       projected, current_perf, unallocated, window_start, window_end, generated_at,
		       approved_at, applied_at, superseded_at, COALESCE(batch_id::text, '')`

func (r *PlanRepo) Create(ctx context.Context, p *domain.AllocationPlan) error {
	bounds, err := json.Marshal(p.Bounds)
	if err != nil {
		return fmt.Errorf("marshal bounds: %w", err)
	}
	allocs, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}
	projected, _ := json.Marshal(p.Projected)
	current, _ := json.Marshal(p.Current)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO opt_plans (id, scope_id, status, total_budget, target_roas, bounds, allocations,
		                       projected, current_perf, unallocated, window_start, window_end, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.ScopeID, p.Status, p.TotalBudget, p.TargetROAS, bounds, allocs,
		projected, current, p.Unallocated, p.WindowStart, p.WindowEnd, p.GeneratedAt)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func scanPlan(row interface{ Scan(...interface{}) error }) (*domain.AllocationPlan, error) {
	var (
		p                                   domain.AllocationPlan
		bounds, allocs, projected, current  []byte
		approvedAt, appliedAt, supersededAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ScopeID, &p.Status, &p.TotalBudget, &p.TargetROAS, &bounds, &allocs,
		&projected, &current, &p.Unallocated, &p.WindowStart, &p.WindowEnd, &p.GeneratedAt,
		&approvedAt, &appliedAt, &supersededAt, &p.BatchID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bounds, &p.Bounds); err != nil {
		return nil, fmt.Errorf("decode bounds: %w", err)
	}
	if err := json.Unmarshal(allocs, &p.Allocations); err != nil {
		return nil, fmt.Errorf("decode allocations: %w", err)
	}
	if err := json.Unmarshal(projected, &p.Projected); err != nil {
		return nil, fmt.Errorf("decode projected: %w", err)
	}
	if err := json.Unmarshal(current, &p.Current); err != nil {
		return nil, fmt.Errorf("decode current: %w", err)
	}
	p.ApprovedAt = timePtr(approvedAt)
	p.AppliedAt = timePtr(appliedAt)
	p.SupersededAt = timePtr(supersededAt)
	return &p, nil
}

func (r *PlanRepo) Get(ctx context.Context, id string) (*domain.AllocationPlan, error) {
	p, err := scanPlan(r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM opt_plans WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, allocation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (r *PlanRepo) ListByScope(ctx context.Context, scopeID string, limit int) ([]domain.AllocationPlan, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM opt_plans
		WHERE scope_id = $1
		ORDER BY generated_at DESC
		LIMIT $2
	`, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []domain.AllocationPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PlanRepo) UpdateStatus(ctx context.Context, id string, from, to domain.PlanStatus, at time.Time) error {
	if !from.CanTransition(to) {
		return allocation.ErrInvalidTransition
	}
	col := "approved_at"
	switch to {
	case domain.PlanApplied:
		col = "applied_at"
	case domain.PlanSuperseded:
		col = "superseded_at"
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE opt_plans SET status = $3, `+col+` = $4 WHERE id = $1 AND status = $2`,
		id, from, to, at)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// Apply supersedes the scope's applied plan and applies id in one
// transaction. The partial unique index on applied plans backs this up.
func (r *PlanRepo) Apply(ctx context.Context, id, batchID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var scopeID string
	err = tx.QueryRowContext(ctx,
		`SELECT scope_id FROM opt_plans WHERE id = $1 AND status = 'approved' FOR UPDATE`, id,
	).Scan(&scopeID)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return r.missingOrConflict(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("lock plan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE opt_plans SET status = 'superseded', superseded_at = $2
		WHERE scope_id = $1 AND status = 'applied'
	`, scopeID, at); err != nil {
		return fmt.Errorf("supersede plans: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE opt_plans SET status = 'applied', applied_at = $2, batch_id = $3 WHERE id = $1
	`, id, at, batchID); err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	return tx.Commit()
}

func (r *PlanRepo) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM opt_plans WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check plan: %w", err)
	}
	if !exists {
		return allocation.ErrNotFound
	}
	return allocation.ErrInvalidTransition
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

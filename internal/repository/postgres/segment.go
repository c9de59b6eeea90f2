package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// ErrSegmentNotFound is returned when a segment id is unknown.
var ErrSegmentNotFound = domain.ErrSegmentNotFound

// SegmentRepo reads and updates segments and serves raw performance rows.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

const segmentColumns = `id, scope_id, campaign_id, kind, text, match_type, control_value, state`

func scanSegment(row interface{ Scan(...interface{}) error }) (domain.Segment, error) {
	var s domain.Segment
	err := row.Scan(&s.ID, &s.ScopeID, &s.CampaignID, &s.Kind, &s.Text, &s.MatchType, &s.ControlValue, &s.State)
	return s, err
}

func (r *SegmentRepo) ListSegments(ctx context.Context, scopeID string, kind domain.SegmentKind) ([]domain.Segment, error) {
	q := `SELECT ` + segmentColumns + ` FROM opt_segments WHERE scope_id = $1 AND state <> 'archived'`
	args := []interface{}{scopeID}
	if kind != "" {
		q += ` AND kind = $2`
		args = append(args, kind)
	}
	q += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SegmentRepo) GetSegment(ctx context.Context, id string) (*domain.Segment, error) {
	s, err := scanSegment(r.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM opt_segments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return &s, nil
}

func (r *SegmentRepo) UpdateSegmentControl(ctx context.Context, id string, value float64, state domain.SegmentState) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE opt_segments SET control_value = $2, state = $3, updated_at = NOW() WHERE id = $1`,
		id, value, state)
	if err != nil {
		return fmt.Errorf("update segment control: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSegmentNotFound
	}
	return nil
}

// UpsertSegment inserts a segment or refreshes its control value and state.
// Identity columns are never changed by an upsert.
func (r *SegmentRepo) UpsertSegment(ctx context.Context, s domain.Segment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO opt_segments (id, scope_id, campaign_id, kind, text, match_type, control_value, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET control_value = $7, state = $8, updated_at = NOW()
	`, s.ID, s.ScopeID, s.CampaignID, s.Kind, s.Text, s.MatchType, s.ControlValue, s.State)
	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}
	return nil
}

// Records implements performance.Source.
func (r *SegmentRepo) Records(ctx context.Context, segmentIDs []string, start, end time.Time, g domain.Granularity) ([]domain.PerformanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT segment_id, period_start, impressions, clicks, spend, sales, orders
		FROM opt_performance
		WHERE segment_id = ANY($1) AND granularity = $2
		  AND period_start >= $3 AND period_start < $4
		ORDER BY segment_id, period_start
	`, pq.Array(segmentIDs), g, start, end)
	if err != nil {
		return nil, fmt.Errorf("query performance: %w", err)
	}
	defer rows.Close()

	var out []domain.PerformanceRecord
	for rows.Next() {
		var p domain.PerformanceRecord
		if err := rows.Scan(&p.SegmentID, &p.PeriodStart, &p.Impressions, &p.Clicks, &p.Spend, &p.Sales, &p.Orders); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPerformance stores raw rows at granularity g, replacing rows for the
// same segment and period.
func (r *SegmentRepo) UpsertPerformance(ctx context.Context, g domain.Granularity, recs []domain.PerformanceRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opt_performance (segment_id, granularity, period_start, impressions, clicks, spend, sales, orders)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (segment_id, granularity, period_start)
		DO UPDATE SET impressions = $4, clicks = $5, spend = $6, sales = $7, orders = $8
	`)
	if err != nil {
		return fmt.Errorf("prepare performance upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range recs {
		if _, err := stmt.ExecContext(ctx, p.SegmentID, g, p.PeriodStart, p.Impressions, p.Clicks, p.Spend, p.Sales, p.Orders); err != nil {
			return fmt.Errorf("upsert performance %s: %w", p.SegmentID, err)
		}
	}
	return tx.Commit()
}

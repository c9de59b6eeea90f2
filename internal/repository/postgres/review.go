package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/review"
)

// ReviewRepo implements review.Repository.
type ReviewRepo struct{ db *sql.DB }

// NewReviewRepo creates a Postgres-backed review schedule store.
func NewReviewRepo(db *sql.DB) *ReviewRepo { return &ReviewRepo{db: db} }

const reviewColumns = `id, scope_id, prediction_id, batch_id, horizon, scheduled_at, status, summary, processed_at, created_at`

func (r *ReviewRepo) CreateReviews(ctx context.Context, rs []domain.ReviewSchedule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, rv := range rs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO opt_reviews (id, scope_id, prediction_id, batch_id, horizon, scheduled_at, status, summary, processed_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, rv.ID, rv.ScopeID, rv.PredictionID, rv.BatchID, rv.Horizon, rv.ScheduledAt,
			rv.Status, rv.Summary, nullTime(rv.ProcessedAt), rv.CreatedAt); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
	}
	return tx.Commit()
}

func scanReview(row interface{ Scan(...interface{}) error }) (*domain.ReviewSchedule, error) {
	var (
		rv        domain.ReviewSchedule
		processed sql.NullTime
	)
	if err := row.Scan(&rv.ID, &rv.ScopeID, &rv.PredictionID, &rv.BatchID, &rv.Horizon, &rv.ScheduledAt,
		&rv.Status, &rv.Summary, &processed, &rv.CreatedAt); err != nil {
		return nil, err
	}
	rv.ProcessedAt = timePtr(processed)
	return &rv, nil
}

func (r *ReviewRepo) GetReview(ctx context.Context, id string) (*domain.ReviewSchedule, error) {
	rv, err := scanReview(r.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM opt_reviews WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, review.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return rv, nil
}

func (r *ReviewRepo) UpdateReview(ctx context.Context, rv *domain.ReviewSchedule) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE opt_reviews
		SET scheduled_at = $2, status = $3, summary = $4, processed_at = $5
		WHERE id = $1
	`, rv.ID, rv.ScheduledAt, rv.Status, rv.Summary, nullTime(rv.ProcessedAt))
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return review.ErrNotFound
	}
	return nil
}

func (r *ReviewRepo) list(ctx context.Context, q string, args ...interface{}) ([]domain.ReviewSchedule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []domain.ReviewSchedule
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, *rv)
	}
	return out, rows.Err()
}

// ListDueReviews returns pending reviews whose time has come, oldest first.
func (r *ReviewRepo) ListDueReviews(ctx context.Context, now time.Time, limit int) ([]domain.ReviewSchedule, error) {
	return r.list(ctx, `
		SELECT `+reviewColumns+`
		FROM opt_reviews
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
}

func (r *ReviewRepo) ListReviews(ctx context.Context, scopeID string, status domain.ReviewStatus) ([]domain.ReviewSchedule, error) {
	if status == "" {
		return r.list(ctx, `
			SELECT `+reviewColumns+`
			FROM opt_reviews
			WHERE scope_id = $1
			ORDER BY scheduled_at
		`, scopeID)
	}
	return r.list(ctx, `
		SELECT `+reviewColumns+`
		FROM opt_reviews
		WHERE scope_id = $1 AND status = $2
		ORDER BY scheduled_at
	`, scopeID, status)
}

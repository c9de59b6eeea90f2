package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// AnnotationRepo implements tracking.Repository. Annotations live in their
// own table keyed by record id so the ledger rows stay untouched.
type AnnotationRepo struct{ db *sql.DB }

// NewAnnotationRepo creates a Postgres-backed tracking annotation store.
func NewAnnotationRepo(db *sql.DB) *AnnotationRepo { return &AnnotationRepo{db: db} }

func (r *AnnotationRepo) GetAnnotation(ctx context.Context, recordID string) (domain.TrackingState, error) {
	var (
		raw []byte
		at  time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT report, tracked_at FROM opt_tracking_annotations WHERE record_id = $1`, recordID,
	).Scan(&raw, &at)
	if err == sql.ErrNoRows {
		return domain.Untracked{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get annotation: %w", err)
	}
	t := domain.Tracked{TrackedAt: at}
	if err := json.Unmarshal(raw, &t.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return t, nil
}

// PutAnnotation inserts t unless a report already exists, then returns the
// stored report either way.
func (r *AnnotationRepo) PutAnnotation(ctx context.Context, recordID string, t domain.Tracked) (domain.Tracked, error) {
	raw, err := json.Marshal(t.Report)
	if err != nil {
		return domain.Tracked{}, fmt.Errorf("marshal report: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO opt_tracking_annotations (record_id, report, tracked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id) DO NOTHING
	`, recordID, raw, t.TrackedAt); err != nil {
		return domain.Tracked{}, fmt.Errorf("insert annotation: %w", err)
	}
	state, err := r.GetAnnotation(ctx, recordID)
	if err != nil {
		return domain.Tracked{}, err
	}
	stored, ok := state.(domain.Tracked)
	if !ok {
		return domain.Tracked{}, fmt.Errorf("annotation for %s vanished after insert", recordID)
	}
	return stored, nil
}

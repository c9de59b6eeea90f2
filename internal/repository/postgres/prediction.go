package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/prediction"
)

// PredictionRepo implements prediction.Repository.
type PredictionRepo struct{ db *sql.DB }

// NewPredictionRepo creates a Postgres-backed prediction store.
func NewPredictionRepo(db *sql.DB) *PredictionRepo { return &PredictionRepo{db: db} }

const predictionColumns = `id, scope_id, source_kind, source_id, horizon, periods, baseline, projected,
		       spend_change, sales_change, roas_change, acos_change, confidence, rationale, created_at`

// CreatePredictions stores all horizons of one prediction in a single
// transaction.
func (r *PredictionRepo) CreatePredictions(ctx context.Context, recs []domain.PredictionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opt_predictions (id, scope_id, source_kind, source_id, horizon, periods, baseline, projected,
		    spend_change, sales_change, roas_change, acos_change, confidence, rationale, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range recs {
		baseline, err := json.Marshal(p.Baseline)
		if err != nil {
			return fmt.Errorf("marshal baseline: %w", err)
		}
		projected, err := json.Marshal(p.Projected)
		if err != nil {
			return fmt.Errorf("marshal projection: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.ScopeID, p.SourceKind, p.SourceID, p.Horizon, p.Periods,
			baseline, projected, p.SpendChange, p.SalesChange, p.ROASChange, p.ACoSChange,
			p.Confidence, p.Rationale, p.CreatedAt); err != nil {
			return fmt.Errorf("insert prediction %s: %w", p.Horizon, err)
		}
	}
	return tx.Commit()
}

func scanPrediction(row interface{ Scan(...interface{}) error }) (*domain.PredictionRecord, error) {
	var (
		p                   domain.PredictionRecord
		baseline, projected []byte
	)
	if err := row.Scan(&p.ID, &p.ScopeID, &p.SourceKind, &p.SourceID, &p.Horizon, &p.Periods, &baseline, &projected,
		&p.SpendChange, &p.SalesChange, &p.ROASChange, &p.ACoSChange, &p.Confidence, &p.Rationale, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(baseline, &p.Baseline); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	if err := json.Unmarshal(projected, &p.Projected); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	return &p, nil
}

func (r *PredictionRepo) GetPrediction(ctx context.Context, id string) (*domain.PredictionRecord, error) {
	p, err := scanPrediction(r.db.QueryRowContext(ctx, `SELECT `+predictionColumns+` FROM opt_predictions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, prediction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction: %w", err)
	}
	return p, nil
}

func (r *PredictionRepo) ListPredictions(ctx context.Context, kind domain.PredictionSource, sourceID string) ([]domain.PredictionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+predictionColumns+`
		FROM opt_predictions
		WHERE source_kind = $1 AND source_id = $2
		ORDER BY periods
	`, kind, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.PredictionRecord
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

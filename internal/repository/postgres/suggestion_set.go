package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
)

// SuggestionSetRepo implements suggestion.SetRepository. The whole set is
// stored as one JSON document.
type SuggestionSetRepo struct{ db *sql.DB }

// NewSuggestionSetRepo creates a Postgres-backed suggestion set store.
func NewSuggestionSetRepo(db *sql.DB) *SuggestionSetRepo { return &SuggestionSetRepo{db: db} }

func (r *SuggestionSetRepo) SaveSuggestionSet(ctx context.Context, set *domain.SuggestionSet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal suggestion set: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO opt_suggestion_sets (id, scope_id, payload, generated_at)
		VALUES ($1, $2, $3, $4)
	`, set.ID, set.ScopeID, payload, set.GeneratedAt)
	if err != nil {
		return fmt.Errorf("insert suggestion set: %w", err)
	}
	return nil
}

func (r *SuggestionSetRepo) GetSuggestionSet(ctx context.Context, id string) (*domain.SuggestionSet, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM opt_suggestion_sets WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, suggestion.ErrSetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion set: %w", err)
	}
	var set domain.SuggestionSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, fmt.Errorf("decode suggestion set: %w", err)
	}
	return &set, nil
}

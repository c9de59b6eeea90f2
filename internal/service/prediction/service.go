package prediction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// ErrNotFound is returned when a prediction does not exist.
var ErrNotFound = errors.New("prediction not found")

// Repository stores prediction records. Records are write-once.
type Repository interface {
	CreatePredictions(ctx context.Context, recs []domain.PredictionRecord) error
	GetPrediction(ctx context.Context, id string) (*domain.PredictionRecord, error)
	ListPredictions(ctx context.Context, kind domain.PredictionSource, sourceID string) ([]domain.PredictionRecord, error)
}

// Service predicts outcomes and persists the records.
type Service struct {
	predictor *Predictor
	repo      Repository
	now       func() time.Time
}

// NewService creates a prediction service.
func NewService(repo Repository, cfg Config) *Service {
	return &Service{predictor: NewPredictor(cfg), repo: repo, now: time.Now}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Predict projects and stores one record per horizon.
func (s *Service) Predict(ctx context.Context, in Input) ([]domain.PredictionRecord, error) {
	recs := s.predictor.Predict(in, s.now().UTC())
	if err := s.repo.CreatePredictions(ctx, recs); err != nil {
		return nil, fmt.Errorf("store predictions: %w", err)
	}
	return recs, nil
}

// ForSource returns the stored predictions of a plan or batch.
func (s *Service) ForSource(ctx context.Context, kind domain.PredictionSource, sourceID string) ([]domain.PredictionRecord, error) {
	return s.repo.ListPredictions(ctx, kind, sourceID)
}

// Get returns one prediction.
func (s *Service) Get(ctx context.Context, id string) (*domain.PredictionRecord, error) {
	return s.repo.GetPrediction(ctx, id)
}

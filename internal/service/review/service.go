package review

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/tracking"
)

// Sentinel errors for the review service.
var (
	ErrNotFound         = errors.New("review not found")
	ErrAlreadyProcessed = errors.New("review already processed")
)

// Repository stores review schedules.
type Repository interface {
	CreateReviews(ctx context.Context, reviews []domain.ReviewSchedule) error
	GetReview(ctx context.Context, id string) (*domain.ReviewSchedule, error)
	UpdateReview(ctx context.Context, r *domain.ReviewSchedule) error
	// ListDueReviews returns pending reviews with scheduled_at <= now,
	// oldest first.
	ListDueReviews(ctx context.Context, now time.Time, limit int) ([]domain.ReviewSchedule, error)
	// ListReviews returns a scope's reviews; an empty status returns all.
	ListReviews(ctx context.Context, scopeID string, status domain.ReviewStatus) ([]domain.ReviewSchedule, error)
}

// RecordLister lists a batch's ledger records.
type RecordLister interface {
	ListByBatch(ctx context.Context, batchID string) ([]domain.ExecutionRecord, error)
}

// Tracker scores ledger records.
type Tracker interface {
	Track(ctx context.Context, recordID string, now time.Time) (*tracking.Outcome, error)
}

// Config controls review timing.
type Config struct {
	PeriodLength time.Duration `yaml:"period_length" json:"period_length"`
	DueBatchSize int           `yaml:"due_batch_size" json:"due_batch_size"`
}

// DefaultConfig returns daily periods.
func DefaultConfig() Config {
	return Config{PeriodLength: 24 * time.Hour, DueBatchSize: 100}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.PeriodLength <= 0 {
		return fmt.Errorf("review: period_length must be positive")
	}
	if c.DueBatchSize < 1 {
		return fmt.Errorf("review: due_batch_size must be >= 1")
	}
	return nil
}

// Result is the outcome of processing one review.
type Result struct {
	Review  domain.ReviewSchedule   `json:"review"`
	Reports []domain.TrackingReport `json:"reports"`
	Waiting int                     `json:"waiting"`
}

// Service schedules and processes reviews.
type Service struct {
	repo    Repository
	records RecordLister
	tracker Tracker
	cfg     Config
}

// NewService creates a review service.
func NewService(repo Repository, records RecordLister, tracker Tracker, cfg Config) *Service {
	return &Service{repo: repo, records: records, tracker: tracker, cfg: cfg}
}

// Schedule creates one pending review per prediction, due once the
// prediction's horizon has elapsed.
func (s *Service) Schedule(ctx context.Context, batchID string, preds []domain.PredictionRecord, now time.Time) ([]domain.ReviewSchedule, error) {
	if len(preds) == 0 {
		return nil, nil
	}
	reviews := make([]domain.ReviewSchedule, 0, len(preds))
	for _, p := range preds {
		reviews = append(reviews, domain.ReviewSchedule{
			ID:           uuid.New().String(),
			ScopeID:      p.ScopeID,
			PredictionID: p.ID,
			BatchID:      batchID,
			Horizon:      p.Horizon,
			ScheduledAt:  now.Add(time.Duration(p.Periods) * s.cfg.PeriodLength),
			Status:       domain.ReviewPending,
			CreatedAt:    now,
		})
	}
	if err := s.repo.CreateReviews(ctx, reviews); err != nil {
		return nil, fmt.Errorf("create reviews: %w", err)
	}
	return reviews, nil
}

// ListDue returns pending reviews whose time has come.
func (s *Service) ListDue(ctx context.Context, now time.Time) ([]domain.ReviewSchedule, error) {
	return s.repo.ListDueReviews(ctx, now, s.cfg.DueBatchSize)
}

// List returns a scope's reviews.
func (s *Service) List(ctx context.Context, scopeID string, status domain.ReviewStatus) ([]domain.ReviewSchedule, error) {
	return s.repo.ListReviews(ctx, scopeID, status)
}

// Get returns one review.
func (s *Service) Get(ctx context.Context, id string) (*domain.ReviewSchedule, error) {
	return s.repo.GetReview(ctx, id)
}

// Process tracks every applied change of the review's batch. If any change
// is not evaluable yet the review stays pending and moves to the latest
// evaluable time; a batch with nothing applied is skipped.
func (s *Service) Process(ctx context.Context, id string, now time.Time) (*Result, error) {
	r, err := s.repo.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != domain.ReviewPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyProcessed, r.ID, r.Status)
	}

	recs, err := s.records.ListByBatch(ctx, r.BatchID)
	if err != nil {
		return nil, fmt.Errorf("list batch records: %w", err)
	}

	res := &Result{}
	var latest time.Time
	tracked := 0
	for _, rec := range recs {
		if rec.Status != domain.RecordApplied && rec.Status != domain.RecordRolledBack {
			continue
		}
		tracked++
		out, err := s.tracker.Track(ctx, rec.ID, now)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", rec.ID, err)
		}
		if out.Status == tracking.StatusNotYetEvaluable {
			res.Waiting++
			if out.EvaluableAt.After(latest) {
				latest = out.EvaluableAt
			}
			continue
		}
		res.Reports = append(res.Reports, *out.Report)
	}

	switch {
	case tracked == 0:
		r.Status = domain.ReviewSkipped
		r.Summary = "no applied changes to track"
		r.ProcessedAt = &now
	case res.Waiting > 0:
		r.ScheduledAt = latest
	default:
		r.Status = domain.ReviewCompleted
		r.Summary = summarize(res.Reports)
		r.ProcessedAt = &now
	}
	if err := s.repo.UpdateReview(ctx, r); err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}
	res.Review = *r

	log.Printf("[review.Service] Review %s (%s, batch %s): %s, %d reports, %d waiting",
		r.ID, r.Horizon, r.BatchID, r.Status, len(res.Reports), res.Waiting)
	return res, nil
}

func summarize(reports []domain.TrackingReport) string {
	var keep, monitor, rollback int
	var total float64
	for _, rp := range reports {
		total += rp.Score
		switch rp.Recommendation {
		case domain.RecommendKeep:
			keep++
		case domain.RecommendRollback:
			rollback++
		default:
			monitor++
		}
	}
	avg := 0.0
	if len(reports) > 0 {
		avg = total / float64(len(reports))
	}
	return fmt.Sprintf("%d changes tracked: %d keep, %d monitor, %d rollback (avg score %.1f)",
		len(reports), keep, monitor, rollback, avg)
}

package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/performance"
)

// ErrNotTrackable is returned for records that never reached the network.
var ErrNotTrackable = errors.New("record was not applied and cannot be tracked")

// Status says whether an Outcome carries a report.
type Status string

const (
	StatusReady           Status = "ready"
	StatusNotYetEvaluable Status = "not_yet_evaluable"
)

// Outcome is the result of a tracking request. When Status is
// StatusNotYetEvaluable, Report is nil and EvaluableAt says when to retry.
type Outcome struct {
	Status      Status                 `json:"status"`
	EvaluableAt time.Time              `json:"evaluable_at"`
	Report      *domain.TrackingReport `json:"report,omitempty"`
}

// Config controls the observation windows.
type Config struct {
	AttributionDelay  time.Duration `yaml:"attribution_delay" json:"attribution_delay"`
	ObservationWindow time.Duration `yaml:"observation_window" json:"observation_window"`
	BaselineWindow    time.Duration `yaml:"baseline_window" json:"baseline_window"`
}

// DefaultConfig waits three days for conversions to attribute, then
// observes a week against the week before the change.
func DefaultConfig() Config {
	return Config{
		AttributionDelay:  72 * time.Hour,
		ObservationWindow: 7 * 24 * time.Hour,
		BaselineWindow:    7 * 24 * time.Hour,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.AttributionDelay < 0 {
		return fmt.Errorf("tracking: attribution_delay must not be negative")
	}
	if c.ObservationWindow <= 0 || c.BaselineWindow <= 0 {
		return fmt.Errorf("tracking: observation and baseline windows must be positive")
	}
	return nil
}

// RecordReader reads ledger records.
type RecordReader interface {
	GetRecord(ctx context.Context, id string) (*domain.ExecutionRecord, error)
}

// Repository stores tracking annotations.
type Repository interface {
	// GetAnnotation returns domain.Untracked{} when no report exists.
	GetAnnotation(ctx context.Context, recordID string) (domain.TrackingState, error)
	// PutAnnotation stores t unless a report already exists, and returns
	// whichever report is stored afterwards.
	PutAnnotation(ctx context.Context, recordID string, t domain.Tracked) (domain.Tracked, error)
}

// Service produces tracking reports.
type Service struct {
	records RecordReader
	repo    Repository
	agg     *performance.Aggregator
	cfg     Config
}

// NewService creates a tracking service.
func NewService(records RecordReader, repo Repository, agg *performance.Aggregator, cfg Config) *Service {
	return &Service{records: records, repo: repo, agg: agg, cfg: cfg}
}

// Windows are the two periods a change is judged on, aligned to whole
// performance buckets. The baseline ends where the bucket holding the change
// starts, so no post-change spend leaks into it. The current window starts at
// the first full bucket after the attribution delay.
type Windows struct {
	BaselineStart time.Time
	BaselineEnd   time.Time
	CurrentStart  time.Time
	CurrentEnd    time.Time
}

// WindowsFor returns the evaluation windows of a change executed at t.
func (s *Service) WindowsFor(t time.Time) Windows {
	baseEnd := s.agg.Bucket(t)
	curStart := s.agg.NextBucket(t.Add(s.cfg.AttributionDelay))
	return Windows{
		BaselineStart: baseEnd.Add(-s.cfg.BaselineWindow),
		BaselineEnd:   baseEnd,
		CurrentStart:  curStart,
		CurrentEnd:    curStart.Add(s.cfg.ObservationWindow),
	}
}

// EvaluableAt returns the earliest time a change executed at t can be
// scored: the end of the last bucket of its current window.
func (s *Service) EvaluableAt(t time.Time) time.Time {
	return s.WindowsFor(t).CurrentEnd
}

// Track scores a ledger record at now. A record that already has a report
// returns it unchanged.
func (s *Service) Track(ctx context.Context, recordID string, now time.Time) (*Outcome, error) {
	state, err := s.repo.GetAnnotation(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load annotation: %w", err)
	}
	if t, ok := state.(domain.Tracked); ok {
		report := t.Report
		return &Outcome{Status: StatusReady, EvaluableAt: t.TrackedAt, Report: &report}, nil
	}

	rec, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.RecordApplied && rec.Status != domain.RecordRolledBack {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotTrackable, rec.ID, rec.Status)
	}

	evaluable := s.EvaluableAt(rec.ExecutedAt)
	if now.Before(evaluable) {
		return &Outcome{Status: StatusNotYetEvaluable, EvaluableAt: evaluable}, nil
	}

	report, err := s.evaluate(ctx, rec, now)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.PutAnnotation(ctx, rec.ID, domain.Tracked{Report: report, TrackedAt: now})
	if err != nil {
		return nil, fmt.Errorf("store annotation: %w", err)
	}

	log.Printf("[tracking.Service] Record %s on %s: score %.1f, %s, %s",
		rec.ID, rec.SegmentID, stored.Report.Score, stored.Report.Rating, stored.Report.Recommendation)
	return &Outcome{Status: StatusReady, EvaluableAt: evaluable, Report: &stored.Report}, nil
}

// Annotation returns the stored tracking state of a record.
func (s *Service) Annotation(ctx context.Context, recordID string) (domain.TrackingState, error) {
	return s.repo.GetAnnotation(ctx, recordID)
}

func (s *Service) evaluate(ctx context.Context, rec *domain.ExecutionRecord, now time.Time) (domain.TrackingReport, error) {
	win := s.WindowsFor(rec.ExecutedAt)

	baseline, err := s.agg.Window(ctx, rec.SegmentID, win.BaselineStart, win.BaselineEnd)
	if err != nil {
		return domain.TrackingReport{}, fmt.Errorf("baseline window: %w", err)
	}
	current, err := s.agg.Window(ctx, rec.SegmentID, win.CurrentStart, win.CurrentEnd)
	if err != nil {
		return domain.TrackingReport{}, fmt.Errorf("current window: %w", err)
	}
	return BuildReport(rec, baseline, current, now), nil
}

// BuildReport scores a record from its two windows.
func BuildReport(rec *domain.ExecutionRecord, baseline, current domain.PerformanceWindow, now time.Time) domain.TrackingReport {
	d := Deltas(baseline, current)
	parts, score := Score(d)
	recm := Recommend(score)
	return domain.TrackingReport{
		RecordID:       rec.ID,
		SegmentID:      rec.SegmentID,
		Baseline:       baseline,
		Current:        current,
		Deltas:         d,
		Components:     parts,
		Score:          score,
		Rating:         Rate(d),
		Recommendation: recm,
		Summary:        summarize(d, score, recm),
		EvaluatedAt:    now,
	}
}

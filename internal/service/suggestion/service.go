package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/performance"
)

// Sentinel errors for the suggestion service.
var (
	ErrInvalidRequest = errors.New("invalid suggestion request")
	ErrSetNotFound    = errors.New("suggestion set not found")
)

// SegmentLister reads the segments of a scope.
type SegmentLister interface {
	ListSegments(ctx context.Context, scopeID string, kind domain.SegmentKind) ([]domain.Segment, error)
}

// SetRepository keeps generated suggestion sets so they can be executed
// later by id.
type SetRepository interface {
	SaveSuggestionSet(ctx context.Context, set *domain.SuggestionSet) error
	// GetSuggestionSet returns ErrSetNotFound if the set doesn't exist.
	GetSuggestionSet(ctx context.Context, id string) (*domain.SuggestionSet, error)
}

// Config enumerates every option of the suggestion generator.
type Config struct {
	Rules RuleConfig `yaml:"rules" json:"rules"`
	// MaxSuggestions caps the output to keep execution batches reviewable.
	MaxSuggestions int `yaml:"max_suggestions" json:"max_suggestions"`
	// LookbackDays is the default analysis window.
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`
	// HistoryDays is the window used to judge paused targets for re-enabling.
	HistoryDays int `yaml:"history_days" json:"history_days"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Rules: RuleConfig{
			NoOrderSpend:      20,
			PauseSpend:        50,
			DecreasePct:       30,
			HighACoS:          50,
			VeryHighACoS:      100,
			TargetACoS:        30,
			MinBid:            0.10,
			StrongCVR:         15,
			StrongACoS:        20,
			StrongMinClicks:   5,
			IncreasePct:       30,
			MaxBid:            10,
			ReenableSales:     100,
			ReenableMaxACoS:   30,
			NegativeSpend:     15,
			NegativeMinClicks: 10,
			ExactMinClicks:    30,
			NegativeACoS:      100,
			Sensitivity:       0.3,
		},
		MaxSuggestions: 50,
		LookbackDays:   14,
		HistoryDays:    60,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	r := c.Rules
	switch {
	case r.PauseSpend < r.NoOrderSpend:
		return fmt.Errorf("suggestion: pause_spend must be >= no_order_spend")
	case r.MinBid <= 0:
		return fmt.Errorf("suggestion: min_bid must be > 0")
	case r.MaxBid != 0 && r.MaxBid < r.MinBid:
		return fmt.Errorf("suggestion: max_bid must be >= min_bid")
	case r.TargetACoS <= 0:
		return fmt.Errorf("suggestion: target_acos must be > 0")
	case r.DecreasePct <= 0 || r.DecreasePct >= 100:
		return fmt.Errorf("suggestion: decrease_pct must be within (0, 100)")
	case r.IncreasePct <= 0:
		return fmt.Errorf("suggestion: increase_pct must be > 0")
	case r.ExactMinClicks < r.NegativeMinClicks:
		return fmt.Errorf("suggestion: exact_min_clicks must be >= negative_min_clicks")
	case c.MaxSuggestions <= 0:
		return fmt.Errorf("suggestion: max_suggestions must be > 0")
	case c.LookbackDays <= 0 || c.HistoryDays < c.LookbackDays:
		return fmt.Errorf("suggestion: history_days must be >= lookback_days > 0")
	}
	return nil
}

// Service generates suggestion sets for a scope.
type Service struct {
	segments SegmentLister
	agg      *performance.Aggregator
	rules    *RuleSet
	cfg      Config
	now      func() time.Time
}

// NewService creates a suggestion service.
func NewService(segments SegmentLister, agg *performance.Aggregator, cfg Config) *Service {
	return &Service{
		segments: segments,
		agg:      agg,
		rules:    NewRuleSet(cfg.Rules),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Generate evaluates every keyword, product target and search term of the
// scope over [start, end). Zero times select the default lookback.
func (s *Service) Generate(ctx context.Context, scopeID string, start, end time.Time) (*domain.SuggestionSet, error) {
	if scopeID == "" {
		return nil, fmt.Errorf("%w: scope_id is required", ErrInvalidRequest)
	}
	if end.IsZero() {
		end = s.now().UTC().Truncate(24 * time.Hour)
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -s.cfg.LookbackDays)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	}
	histStart := end.AddDate(0, 0, -s.cfg.HistoryDays)
	if histStart.After(start) {
		histStart = start
	}

	all, err := s.segments.ListSegments(ctx, scopeID, "")
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	var segs []domain.Segment
	var ids []string
	for _, seg := range all {
		switch seg.Kind {
		case domain.SegmentKeyword, domain.SegmentProductTarget, domain.SegmentSearchTerm:
			segs = append(segs, seg)
			ids = append(ids, seg.ID)
		}
	}

	recent, err := s.agg.Windows(ctx, ids, start, end)
	if err != nil {
		return nil, err
	}
	history, err := s.agg.Windows(ctx, ids, histStart, end)
	if err != nil {
		return nil, err
	}

	var out []domain.Suggestion
	for _, seg := range segs {
		if sug, ok := s.rules.Evaluate(seg, recent[seg.ID], history[seg.ID]); ok {
			out = append(out, sug)
		}
	}
	Rank(out)

	set := &domain.SuggestionSet{
		ID:          uuid.New().String(),
		ScopeID:     scopeID,
		WindowStart: start,
		WindowEnd:   end,
		GeneratedAt: s.now().UTC(),
	}
	if len(out) > s.cfg.MaxSuggestions {
		set.Truncated = len(out) - s.cfg.MaxSuggestions
		out = out[:s.cfg.MaxSuggestions]
	}
	set.Suggestions = out
	log.Printf("[suggestion.Service] Scope %s: %d suggestions (%d truncated) from %d targets",
		scopeID, len(out), set.Truncated, len(segs))
	return set, nil
}

// Rank orders suggestions by priority, then spend, then segment id.
func Rank(s []domain.Suggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if ri, rj := s[i].Priority.Rank(), s[j].Priority.Rank(); ri != rj {
			return ri < rj
		}
		if s[i].Window.Spend != s[j].Window.Spend {
			return s[i].Window.Spend > s[j].Window.Spend
		}
		return s[i].Segment.ID < s[j].Segment.ID
	})
}

package suggestion

import (
	"fmt"
	"math"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// Rule names, recorded on each suggestion.
const (
	RuleNoOrders      = "no_orders"
	RuleHighACoS      = "high_acos"
	RuleStrongConvert = "strong_converter"
	RuleReenable      = "reenable"
	RuleNegativeWaste = "search_term_waste"
	RuleNegativeACoS  = "search_term_acos"
)

// RuleConfig enumerates every rule threshold.
type RuleConfig struct {
	NoOrderSpend float64 `yaml:"no_order_spend" json:"no_order_spend"`
	PauseSpend   float64 `yaml:"pause_spend" json:"pause_spend"`
	DecreasePct  float64 `yaml:"decrease_pct" json:"decrease_pct"`

	HighACoS     float64 `yaml:"high_acos" json:"high_acos"`
	VeryHighACoS float64 `yaml:"very_high_acos" json:"very_high_acos"`
	TargetACoS   float64 `yaml:"target_acos" json:"target_acos"`
	MinBid       float64 `yaml:"min_bid" json:"min_bid"`

	StrongCVR         float64 `yaml:"strong_cvr" json:"strong_cvr"`
	StrongACoS        float64 `yaml:"strong_acos" json:"strong_acos"`
	StrongMinClicks   int64   `yaml:"strong_min_clicks" json:"strong_min_clicks"`
	IncreasePct       float64 `yaml:"increase_pct" json:"increase_pct"`
	MaxBid            float64 `yaml:"max_bid" json:"max_bid"`
	ReenableSales     float64 `yaml:"reenable_sales" json:"reenable_sales"`
	ReenableMaxACoS   float64 `yaml:"reenable_max_acos" json:"reenable_max_acos"`
	NegativeSpend     float64 `yaml:"negative_spend" json:"negative_spend"`
	NegativeMinClicks int64   `yaml:"negative_min_clicks" json:"negative_min_clicks"`
	ExactMinClicks    int64   `yaml:"exact_min_clicks" json:"exact_min_clicks"`
	NegativeACoS      float64 `yaml:"negative_acos" json:"negative_acos"`

	// Sensitivity is the spend response used for bid-change impact estimates.
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity"`
}

// RuleSet evaluates the rules for one target at a time.
type RuleSet struct {
	cfg RuleConfig
}

// NewRuleSet creates a rule set.
func NewRuleSet(cfg RuleConfig) *RuleSet {
	return &RuleSet{cfg: cfg}
}

// Evaluate returns the first matching suggestion for a segment. recent is the
// analysis window; history is the longer window used to judge paused targets.
func (r *RuleSet) Evaluate(seg domain.Segment, recent, history domain.PerformanceWindow) (domain.Suggestion, bool) {
	switch seg.Kind {
	case domain.SegmentKeyword, domain.SegmentProductTarget:
		if seg.IsPaused() {
			return r.reenable(seg, history)
		}
		if seg.State != domain.SegmentEnabled {
			return domain.Suggestion{}, false
		}
		if s, ok := r.noOrders(seg, recent); ok {
			return s, true
		}
		if s, ok := r.highACoS(seg, recent); ok {
			return s, true
		}
		return r.strongConverter(seg, recent)
	case domain.SegmentSearchTerm:
		if seg.State != domain.SegmentEnabled {
			return domain.Suggestion{}, false
		}
		if s, ok := r.searchTermWaste(seg, recent); ok {
			return s, true
		}
		return r.searchTermACoS(seg, recent)
	}
	return domain.Suggestion{}, false
}

func (r *RuleSet) noOrders(seg domain.Segment, w domain.PerformanceWindow) (domain.Suggestion, bool) {
	if !(w.Spend > r.cfg.NoOrderSpend && w.Orders == 0) {
		return domain.Suggestion{}, false
	}
	if w.Spend > r.cfg.PauseSpend {
		return r.remove(seg, w, domain.ActionPause, domain.PriorityHigh, RuleNoOrders,
			fmt.Sprintf("spent %.2f with no orders (pause threshold %.2f)", w.Spend, r.cfg.PauseSpend)), true
	}
	next := math.Max(r.cfg.MinBid, domain.RoundMoney(seg.ControlValue*(1-r.cfg.DecreasePct/100)))
	if next >= seg.ControlValue {
		return domain.Suggestion{}, false
	}
	return r.bidChange(seg, w, domain.ActionDecreaseBid, next, domain.PriorityMedium, RuleNoOrders,
		fmt.Sprintf("spent %.2f with no orders; lower bid %.0f%%", w.Spend, r.cfg.DecreasePct)), true
}

func (r *RuleSet) highACoS(seg domain.Segment, w domain.PerformanceWindow) (domain.Suggestion, bool) {
	if !(w.ACoS > r.cfg.HighACoS && w.Orders > 0) {
		return domain.Suggestion{}, false
	}
	next := math.Max(r.cfg.MinBid, domain.RoundMoney(w.CPC*r.cfg.TargetACoS/w.ACoS))
	if next >= seg.ControlValue {
		return domain.Suggestion{}, false
	}
	priority := domain.PriorityMedium
	if w.ACoS > r.cfg.VeryHighACoS {
		priority = domain.PriorityHigh
	}
	return r.bidChange(seg, w, domain.ActionDecreaseBid, next, priority, RuleHighACoS,
		fmt.Sprintf("ACoS %.1f%% above %.0f%%; bid toward target ACoS %.0f%%", w.ACoS, r.cfg.HighACoS, r.cfg.TargetACoS)), true
}

func (r *RuleSet) strongConverter(seg domain.Segment, w domain.PerformanceWindow) (domain.Suggestion, bool) {
	if !(w.CVR > r.cfg.StrongCVR && w.ACoS < r.cfg.StrongACoS && w.Clicks > r.cfg.StrongMinClicks) {
		return domain.Suggestion{}, false
	}
	next := domain.RoundMoney(seg.ControlValue * (1 + r.cfg.IncreasePct/100))
	if r.cfg.MaxBid > 0 && next > r.cfg.MaxBid {
		next = r.cfg.MaxBid
	}
	if next <= seg.ControlValue {
		return domain.Suggestion{}, false
	}
	return r.bidChange(seg, w, domain.ActionIncreaseBid, next, domain.PriorityMedium, RuleStrongConvert,
		fmt.Sprintf("CVR %.1f%% at ACoS %.1f%%; raise bid %.0f%%", w.CVR, w.ACoS, r.cfg.IncreasePct)), true
}

func (r *RuleSet) reenable(seg domain.Segment, h domain.PerformanceWindow) (domain.Suggestion, bool) {
	if !(h.Sales > r.cfg.ReenableSales && h.ACoS < r.cfg.ReenableMaxACoS) {
		return domain.Suggestion{}, false
	}
	days := h.Days()
	impact := impactOf(h, h.Spend/days, h.Sales/days)
	return domain.Suggestion{
		Segment:        seg,
		Action:         domain.ActionEnable,
		CurrentValue:   seg.ControlValue,
		SuggestedValue: seg.ControlValue,
		Priority:       domain.PriorityLow,
		Rule:           RuleReenable,
		Reason:         fmt.Sprintf("paused but sold %.2f at ACoS %.1f%% historically", h.Sales, h.ACoS),
		Window:         h,
		Impact:         &impact,
	}, true
}

func (r *RuleSet) searchTermWaste(seg domain.Segment, w domain.PerformanceWindow) (domain.Suggestion, bool) {
	if !(w.Spend > r.cfg.NegativeSpend && w.Orders == 0 && w.Clicks > r.cfg.NegativeMinClicks) {
		return domain.Suggestion{}, false
	}
	if w.Clicks > r.cfg.ExactMinClicks {
		return r.remove(seg, w, domain.ActionNegativeExact, domain.PriorityHigh, RuleNegativeWaste,
			fmt.Sprintf("%d clicks and %.2f spend without orders", w.Clicks, w.Spend)), true
	}
	return r.remove(seg, w, domain.ActionNegativePhrase, domain.PriorityMedium, RuleNegativeWaste,
		fmt.Sprintf("%d clicks and %.2f spend without orders", w.Clicks, w.Spend)), true
}

func (r *RuleSet) searchTermACoS(seg domain.Segment, w domain.PerformanceWindow) (domain.Suggestion, bool) {
	if !(w.ACoS > r.cfg.NegativeACoS && w.Spend > r.cfg.NegativeSpend) {
		return domain.Suggestion{}, false
	}
	return r.remove(seg, w, domain.ActionNegativePhrase, domain.PriorityMedium, RuleNegativeACoS,
		fmt.Sprintf("ACoS %.1f%% on %.2f spend", w.ACoS, w.Spend)), true
}

// remove builds a suggestion that stops a target's spend (pause or negative).
func (r *RuleSet) remove(seg domain.Segment, w domain.PerformanceWindow, action domain.ActionType, p domain.Priority, rule, reason string) domain.Suggestion {
	days := w.Days()
	impact := impactOf(w, -w.Spend/days, -w.Sales/days)
	return domain.Suggestion{
		Segment:        seg,
		Action:         action,
		CurrentValue:   seg.ControlValue,
		SuggestedValue: seg.ControlValue,
		Priority:       p,
		Rule:           rule,
		Reason:         reason,
		Window:         w,
		Impact:         &impact,
	}
}

func (r *RuleSet) bidChange(seg domain.Segment, w domain.PerformanceWindow, action domain.ActionType, next float64, p domain.Priority, rule, reason string) domain.Suggestion {
	days := w.Days()
	pct := domain.SafeDiv(next-seg.ControlValue, seg.ControlValue)
	dSpend := w.Spend / days * pct * r.cfg.Sensitivity
	impact := impactOf(w, dSpend, dSpend*w.ROAS)
	return domain.Suggestion{
		Segment:        seg,
		Action:         action,
		CurrentValue:   seg.ControlValue,
		SuggestedValue: next,
		Priority:       p,
		Rule:           rule,
		Reason:         reason,
		Window:         w,
		Impact:         &impact,
	}
}

// impactOf expresses per-period spend and sales deltas together with the
// ratio changes they imply for the target.
func impactOf(w domain.PerformanceWindow, dSpend, dSales float64) domain.ExpectedImpact {
	days := w.Days()
	spend, sales := w.Spend/days, w.Sales/days
	nextSpend, nextSales := math.Max(0, spend+dSpend), math.Max(0, sales+dSales)
	return domain.ExpectedImpact{
		SpendDelta: dSpend,
		SalesDelta: dSales,
		ROASDelta:  domain.SafeDiv(nextSales, nextSpend) - domain.SafeDiv(sales, spend),
		ACoSDelta:  domain.SafeDiv(nextSpend, nextSales)*100 - domain.SafeDiv(spend, sales)*100,
	}
}

package domain

import "time"

// Granularity is the bucket size of raw performance rows.
type Granularity string

const (
	GranularityDaily  Granularity = "daily"
	GranularityHourly Granularity = "hourly"
)

// Step returns the duration of one bucket.
func (g Granularity) Step() time.Duration {
	if g == GranularityHourly {
		return time.Hour
	}
	return 24 * time.Hour
}

// PerformanceRecord is one raw row from the metrics source: a segment's
// counters for a single day or hour.
type PerformanceRecord struct {
	SegmentID   string    `json:"segment_id" db:"segment_id"`
	PeriodStart time.Time `json:"period_start" db:"period_start"`
	Impressions int64     `json:"impressions" db:"impressions"`
	Clicks      int64     `json:"clicks" db:"clicks"`
	Spend       float64   `json:"spend" db:"spend"`
	Sales       float64   `json:"sales" db:"sales"`
	Orders      int64     `json:"orders" db:"orders"`
}

// PerformanceWindow is the aggregate of a segment's rows over [Start, End).
// It is derived on demand and never stored as mutable state.
type PerformanceWindow struct {
	SegmentID   string    `json:"segment_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Spend       float64   `json:"spend"`
	Sales       float64   `json:"sales"`
	Orders      int64     `json:"orders"`

	ROAS float64 `json:"roas"`
	ACoS float64 `json:"acos"`
	CTR  float64 `json:"ctr"`
	CVR  float64 `json:"cvr"`
	CPC  float64 `json:"cpc"`
}

// Add accumulates a raw row into the window counters. Derive must be called
// after the last Add.
func (w *PerformanceWindow) Add(r PerformanceRecord) {
	w.Impressions += nonNegInt(r.Impressions)
	w.Clicks += nonNegInt(r.Clicks)
	w.Orders += nonNegInt(r.Orders)
	w.Spend += nonNegFloat(r.Spend)
	w.Sales += nonNegFloat(r.Sales)
}

// Merge accumulates another window's counters.
func (w *PerformanceWindow) Merge(o PerformanceWindow) {
	w.Impressions += o.Impressions
	w.Clicks += o.Clicks
	w.Orders += o.Orders
	w.Spend += o.Spend
	w.Sales += o.Sales
}

// Derive recomputes the ratio fields from the counters. Every ratio with a
// zero denominator is 0, so "no spend, no sales" yields ROAS=0 and ACoS=0.
func (w *PerformanceWindow) Derive() {
	w.ROAS = SafeDiv(w.Sales, w.Spend)
	w.ACoS = SafeDiv(w.Spend, w.Sales) * 100
	w.CTR = SafeDiv(float64(w.Clicks), float64(w.Impressions)) * 100
	w.CVR = SafeDiv(float64(w.Orders), float64(w.Clicks)) * 100
	w.CPC = SafeDiv(w.Spend, float64(w.Clicks))
}

// Days returns the window length in days (at least 1).
func (w PerformanceWindow) Days() float64 {
	d := w.End.Sub(w.Start).Hours() / 24
	if d < 1 {
		return 1
	}
	return d
}

// SafeDiv returns a/b, or 0 when b is zero.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// PctChange returns the percent change from before to after. A change from
// zero to a positive value counts as +100%, zero to zero as 0%.
func PctChange(before, after float64) float64 {
	if before == 0 {
		switch {
		case after > 0:
			return 100
		case after < 0:
			return -100
		default:
			return 0
		}
	}
	return (after - before) / abs(before) * 100
}

func nonNegInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func nonNegFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

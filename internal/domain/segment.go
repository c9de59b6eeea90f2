package domain

import (
	"errors"
	"fmt"
)

// SegmentKind identifies what a segment represents on the ad network.
type SegmentKind string

const (
	SegmentPlacement     SegmentKind = "placement"
	SegmentKeyword       SegmentKind = "keyword"
	SegmentProductTarget SegmentKind = "product_target"
	SegmentCampaign      SegmentKind = "campaign"
	SegmentSearchTerm    SegmentKind = "search_term"
)

// Valid reports whether k is a known segment kind.
func (k SegmentKind) Valid() bool {
	switch k {
	case SegmentPlacement, SegmentKeyword, SegmentProductTarget, SegmentCampaign, SegmentSearchTerm:
		return true
	}
	return false
}

// SegmentState is the serving state of a segment.
type SegmentState string

const (
	SegmentEnabled  SegmentState = "enabled"
	SegmentPaused   SegmentState = "paused"
	SegmentArchived SegmentState = "archived"
)

// Segment is the unit of optimization. Identity (ID, Kind, CampaignID, Text)
// never changes; ControlValue and State move over time.
type Segment struct {
	ID           string       `json:"id" db:"id"`
	ScopeID      string       `json:"scope_id" db:"scope_id"`
	CampaignID   string       `json:"campaign_id" db:"campaign_id"`
	Kind         SegmentKind  `json:"kind" db:"kind"`
	Text         string       `json:"text" db:"text"`
	MatchType    string       `json:"match_type,omitempty" db:"match_type"`
	ControlValue float64      `json:"control_value" db:"control_value"`
	State        SegmentState `json:"state" db:"state"`
}

// IsPaused returns true if the segment is not currently serving.
func (s *Segment) IsPaused() bool {
	return s.State == SegmentPaused
}

// ControlUnit describes how a control value is interpreted.
type ControlUnit string

const (
	// UnitPercentPoints is a bid adjustment expressed in percentage points
	// (e.g. a placement modifier between 0 and 900).
	UnitPercentPoints ControlUnit = "percent_points"
	// UnitCurrency is an absolute money amount (bid or budget).
	UnitCurrency ControlUnit = "currency"
)

// DefaultUnit returns the natural control unit for a segment kind.
func DefaultUnit(k SegmentKind) ControlUnit {
	if k == SegmentPlacement {
		return UnitPercentPoints
	}
	return UnitCurrency
}

// ErrSegmentNotFound is returned by segment stores for an unknown id.
var ErrSegmentNotFound = errors.New("segment not found")

// Bounds is the allowed envelope for a control value.
type Bounds struct {
	Min  float64     `json:"min" yaml:"min"`
	Max  float64     `json:"max" yaml:"max"`
	Unit ControlUnit `json:"unit" yaml:"unit"`
}

// Validate checks that the envelope is usable.
func (b Bounds) Validate() error {
	if b.Min < 0 {
		return fmt.Errorf("bounds: min must be >= 0, got %v", b.Min)
	}
	if b.Max < b.Min {
		return fmt.Errorf("bounds: max %v below min %v", b.Max, b.Min)
	}
	if b.Unit != UnitPercentPoints && b.Unit != UnitCurrency {
		return fmt.Errorf("bounds: unknown unit %q", b.Unit)
	}
	if s := b.Snap(); s.Max < s.Min {
		return fmt.Errorf("bounds: no %s value between %v and %v", b.Unit, b.Min, b.Max)
	}
	return nil
}

// Snap narrows the envelope to values the ad network can represent: Min is
// rounded up and Max down to the unit's precision. Clamping a rounded value
// to snapped bounds always yields a value inside the original bounds.
func (b Bounds) Snap() Bounds {
	return Bounds{Min: CeilControl(b.Min, b.Unit), Max: FloorControl(b.Max, b.Unit), Unit: b.Unit}
}

// Clamp returns v limited to [Min, Max] and whether clipping happened.
func (b Bounds) Clamp(v float64) (float64, bool) {
	if v < b.Min {
		return b.Min, true
	}
	if v > b.Max {
		return b.Max, true
	}
	return v, false
}

// Contains reports whether v lies inside the envelope.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

package execution

import (
	"sort"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// ReplayedSegment is the control state of a segment reconstructed from the
// ledger.
type ReplayedSegment struct {
	Value float64             `json:"value"`
	State domain.SegmentState `json:"state,omitempty"`
}

// Replay reconstructs each segment's control value by applying the ledger's
// successful records in timestamp order. Failed and pending records never
// touched the network and are ignored; rolled_back records did, and their
// reversal appears later as its own record.
func Replay(records []domain.ExecutionRecord) map[string]ReplayedSegment {
	recs := make([]domain.ExecutionRecord, 0, len(records))
	for _, r := range records {
		if r.Status == domain.RecordApplied || r.Status == domain.RecordRolledBack {
			recs = append(recs, r)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ExecutedAt.Before(recs[j].ExecutedAt)
	})

	out := make(map[string]ReplayedSegment)
	for _, r := range recs {
		cur, ok := out[r.SegmentID]
		if !ok {
			cur = ReplayedSegment{Value: r.PreviousValue}
		}
		if r.Action.SetsValue() {
			cur.Value = r.NewValue
		} else if st, ok := stateAfter(r.Action); ok {
			cur.State = st
		}
		out[r.SegmentID] = cur
	}
	return out
}

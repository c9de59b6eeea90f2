package performance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
)

// ErrInvalidRange is returned when a window's end is not after its start.
var ErrInvalidRange = errors.New("performance: end must be after start")

// Source supplies raw performance rows. It is the only way metrics enter the
// engine; tests inject a deterministic fake.
type Source interface {
	// Records returns rows for the given segments whose PeriodStart lies in
	// [start, end), at the requested granularity. Segments with no rows are
	// simply absent from the result.
	Records(ctx context.Context, segmentIDs []string, start, end time.Time, g domain.Granularity) ([]domain.PerformanceRecord, error)
}

// Aggregator turns raw rows into PerformanceWindows.
type Aggregator struct {
	src  Source
	base domain.Granularity
}

// NewAggregator creates an aggregator reading rows at the given base
// granularity. An empty granularity means daily.
func NewAggregator(src Source, base domain.Granularity) *Aggregator {
	if base == "" {
		base = domain.GranularityDaily
	}
	return &Aggregator{src: src, base: base}
}

// Windows returns one window per requested segment over [start, end). Every
// requested id is present in the result, zero-filled if it had no rows.
func (a *Aggregator) Windows(ctx context.Context, segmentIDs []string, start, end time.Time) (map[string]domain.PerformanceWindow, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	out := make(map[string]domain.PerformanceWindow, len(segmentIDs))
	for _, id := range segmentIDs {
		out[id] = domain.PerformanceWindow{SegmentID: id, Start: start, End: end}
	}
	if len(segmentIDs) == 0 {
		return out, nil
	}

	rows, err := a.src.Records(ctx, segmentIDs, start, end, a.base)
	if err != nil {
		return nil, fmt.Errorf("load performance rows: %w", err)
	}
	for _, r := range rows {
		w, ok := out[r.SegmentID]
		if !ok || !inRange(r.PeriodStart, start, end) {
			continue
		}
		w.Add(r)
		out[r.SegmentID] = w
	}
	for id, w := range out {
		w.Derive()
		out[id] = w
	}
	return out, nil
}

// Granularity returns the bucket size of the rows the aggregator reads.
func (a *Aggregator) Granularity() domain.Granularity { return a.base }

// Bucket returns the start of the bucket containing t.
func (a *Aggregator) Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(a.base.Step())
}

// NextBucket returns t when it starts a bucket, else the start of the
// following bucket.
func (a *Aggregator) NextBucket(t time.Time) time.Time {
	b := a.Bucket(t)
	if b.Before(t) {
		return b.Add(a.base.Step())
	}
	return b
}

// Window returns the window of a single segment.
func (a *Aggregator) Window(ctx context.Context, segmentID string, start, end time.Time) (domain.PerformanceWindow, error) {
	ws, err := a.Windows(ctx, []string{segmentID}, start, end)
	if err != nil {
		return domain.PerformanceWindow{}, err
	}
	return ws[segmentID], nil
}

// Total returns the combined window of all given segments. The result has
// an empty SegmentID.
func (a *Aggregator) Total(ctx context.Context, segmentIDs []string, start, end time.Time) (domain.PerformanceWindow, error) {
	ws, err := a.Windows(ctx, segmentIDs, start, end)
	if err != nil {
		return domain.PerformanceWindow{}, err
	}
	return Combine(ws, start, end), nil
}

// Series returns, per segment, one window per period of granularity g in
// [start, end). Periods without rows are present with zero counters.
func (a *Aggregator) Series(ctx context.Context, segmentIDs []string, start, end time.Time, g domain.Granularity) (map[string][]domain.PerformanceWindow, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	step := g.Step()
	n := int(end.Sub(start) / step)
	if end.Sub(start)%step != 0 {
		n++
	}

	out := make(map[string][]domain.PerformanceWindow, len(segmentIDs))
	for _, id := range segmentIDs {
		series := make([]domain.PerformanceWindow, n)
		for i := range series {
			ps := start.Add(time.Duration(i) * step)
			pe := ps.Add(step)
			if pe.After(end) {
				pe = end
			}
			series[i] = domain.PerformanceWindow{SegmentID: id, Start: ps, End: pe}
		}
		out[id] = series
	}
	if len(segmentIDs) == 0 {
		return out, nil
	}

	rows, err := a.src.Records(ctx, segmentIDs, start, end, g)
	if err != nil {
		return nil, fmt.Errorf("load performance rows: %w", err)
	}
	for _, r := range rows {
		series, ok := out[r.SegmentID]
		if !ok || !inRange(r.PeriodStart, start, end) {
			continue
		}
		idx := int(r.PeriodStart.Sub(start) / step)
		series[idx].Add(r)
	}
	for _, series := range out {
		for i := range series {
			series[i].Derive()
		}
	}
	return out, nil
}

// Combine merges windows into one aggregate over [start, end).
func Combine(ws map[string]domain.PerformanceWindow, start, end time.Time) domain.PerformanceWindow {
	total := domain.PerformanceWindow{Start: start, End: end}
	for _, w := range ws {
		total.Merge(w)
	}
	total.Derive()
	return total
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

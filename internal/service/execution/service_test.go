package execution_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/performance"
	"github.com/ignite/spend-optimizer/internal/pkg/distlock"
	"github.com/ignite/spend-optimizer/internal/service/execution"
)

// memStore is an in-memory ledger, batch and segment store for unit testing.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*domain.ExecutionRecord
	order    []string
	batches  map[string]*domain.ExecutionBatch
	segments map[string]*domain.Segment
}

func newMemStore(segs ...domain.Segment) *memStore {
	m := &memStore{
		records:  make(map[string]*domain.ExecutionRecord),
		batches:  make(map[string]*domain.ExecutionBatch),
		segments: make(map[string]*domain.Segment),
	}
	for i := range segs {
		s := segs[i]
		m.segments[s.ID] = &s
	}
	return m
}

func (m *memStore) AppendRecord(_ context.Context, rec *domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *memStore) GetRecord(_ context.Context, id string) (*domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) TransitionRecord(_ context.Context, id string, from, to domain.RecordStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return execution.ErrNotFound
	}
	if r.Status != from || !from.CanTransition(to) {
		return execution.ErrInvalidTransition
	}
	r.Status = to
	r.Error = errMsg
	return nil
}

func (m *memStore) ListByBatch(_ context.Context, batchID string) ([]domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, id := range m.order {
		if r := m.records[id]; r.BatchID == batchID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) History(_ context.Context, scopeID, segmentID string) ([]domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, id := range m.order {
		r := m.records[id]
		if r.ScopeID == scopeID && (segmentID == "" || r.SegmentID == segmentID) {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

func (m *memStore) CreateBatch(_ context.Context, b *domain.ExecutionBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *memStore) GetBatch(_ context.Context, id string) (*domain.ExecutionBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, execution.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) UpdateBatch(_ context.Context, b *domain.ExecutionBatch) error {
	return m.CreateBatch(context.Background(), b)
}

func (m *memStore) ListBatches(_ context.Context, scopeID string, limit int) ([]domain.ExecutionBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExecutionBatch
	for _, b := range m.batches {
		if b.ScopeID == scopeID {
			out = append(out, *b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetSegment(_ context.Context, id string) (*domain.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return nil, errors.New("segment not found")
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) UpdateSegmentControl(_ context.Context, id string, value float64, state domain.SegmentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return errors.New("segment not found")
	}
	s.ControlValue = value
	s.State = state
	return nil
}

func (m *memStore) segment(id string) domain.Segment {
	s, _ := m.GetSegment(context.Background(), id)
	return *s
}

// fakeMutator fails for the listed segments and records every call.
type fakeMutator struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
	after func()
}

func (f *fakeMutator) Apply(_ context.Context, seg domain.Segment, action domain.ActionType, _ float64) error {
	f.mu.Lock()
	f.calls = append(f.calls, seg.ID+":"+string(action))
	fail := f.fail[seg.ID]
	after := f.after
	f.mu.Unlock()
	if after != nil {
		after()
	}
	if fail {
		return errors.New("ad network rejected change")
	}
	return nil
}

type noRows struct{}

func (noRows) Records(context.Context, []string, time.Time, time.Time, domain.Granularity) ([]domain.PerformanceRecord, error) {
	return nil, nil
}

func newService(store *memStore, mut execution.Mutator) *execution.Service {
	svc := execution.NewService(store, store, store, mut,
		performance.NewAggregator(noRows{}, ""), distlock.NewFactory(nil, nil, time.Minute), execution.DefaultConfig())
	clock := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})
	return svc
}

func keyword(id, scope string, bid float64) domain.Segment {
	return domain.Segment{ID: id, ScopeID: scope, Kind: domain.SegmentKeyword, ControlValue: bid, State: domain.SegmentEnabled}
}

func TestExecutePartialFailure(t *testing.T) {
	a, b, c := keyword("kw-a", "s1", 1.0), keyword("kw-b", "s1", 2.0), keyword("kw-c", "s1", 0.5)
	store := newMemStore(a, b, c)
	mut := &fakeMutator{fail: map[string]bool{"kw-b": true}}
	svc := newService(store, mut)

	sum, err := svc.Execute(context.Background(), execution.Request{
		ScopeID: "s1",
		Source:  domain.SourceSuggestions,
		Items: []domain.ExecutionItem{
			{Segment: a, Action: domain.ActionSetBid, NewValue: 1.25, Reason: "strong converter"},
			{Segment: b, Action: domain.ActionSetBid, NewValue: 1.4, Reason: "high acos"},
			{Segment: c, Action: domain.ActionPause, Reason: "no orders"},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sum.Batch.Status != domain.BatchPartiallyCompleted {
		t.Fatalf("expected partially_completed, got %s", sum.Batch.Status)
	}
	if sum.Batch.Succeeded != 2 || sum.Batch.Failed != 1 || sum.Batch.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", sum.Batch)
	}
	if len(sum.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(sum.Records))
	}
	if sum.Records[1].Status != domain.RecordFailed || sum.Records[1].Error == "" {
		t.Fatalf("expected kw-b failed with error, got %+v", sum.Records[1])
	}
	if got := store.segment("kw-a").ControlValue; got != 1.25 {
		t.Fatalf("kw-a bid: got %v, want 1.25", got)
	}
	if got := store.segment("kw-b").ControlValue; got != 2.0 {
		t.Fatalf("failed change must not touch kw-b, got %v", got)
	}
	if got := store.segment("kw-c").State; got != domain.SegmentPaused {
		t.Fatalf("kw-c state: got %s, want paused", got)
	}

	stored, err := svc.GetBatch(context.Background(), sum.Batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if stored.Batch.Status != domain.BatchPartiallyCompleted || len(stored.Records) != 3 {
		t.Fatalf("stored batch mismatch: %+v", stored.Batch)
	}
}

func TestExecuteAllFailed(t *testing.T) {
	a := keyword("kw-a", "s2", 1.0)
	store := newMemStore(a)
	svc := newService(store, &fakeMutator{fail: map[string]bool{"kw-a": true}})

	sum, err := svc.Execute(context.Background(), execution.Request{
		ScopeID: "s2",
		Source:  domain.SourcePlan,
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionSetBid, NewValue: 2}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sum.Batch.Status != domain.BatchFailed || sum.Batch.Failed != 1 {
		t.Fatalf("expected failed batch, got %+v", sum.Batch)
	}
}

func TestExecuteSkipsNoOps(t *testing.T) {
	a := keyword("kw-a", "s3", 1.0)
	store := newMemStore(a)
	mut := &fakeMutator{}
	svc := newService(store, mut)

	sum, err := svc.Execute(context.Background(), execution.Request{
		ScopeID: "s3",
		Source:  domain.SourcePlan,
		Items: []domain.ExecutionItem{
			{Segment: a, Action: domain.ActionSetBid, NewValue: 1.001},
			{Segment: a, Action: domain.ActionEnable},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sum.Batch.Status != domain.BatchCompleted || sum.Batch.Skipped != 2 || len(sum.Records) != 0 {
		t.Fatalf("expected two skipped no-ops, got %+v", sum.Batch)
	}
	if len(mut.calls) != 0 {
		t.Fatalf("no-op items must not reach the ad network, got %v", mut.calls)
	}
}

func TestExecuteSameSegmentInOrder(t *testing.T) {
	a := keyword("kw-a", "s4", 1.0)
	store := newMemStore(a)
	svc := newService(store, &fakeMutator{})

	sum, err := svc.Execute(context.Background(), execution.Request{
		ScopeID: "s4",
		Source:  domain.SourceSuggestions,
		Items: []domain.ExecutionItem{
			{Segment: a, Action: domain.ActionSetBid, NewValue: 1.5},
			{Segment: a, Action: domain.ActionSetBid, NewValue: 1.8},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sum.Records[1].PreviousValue != 1.5 {
		t.Fatalf("second change should start from 1.5, got %v", sum.Records[1].PreviousValue)
	}
	if got := store.segment("kw-a").ControlValue; got != 1.8 {
		t.Fatalf("final bid: got %v, want 1.8", got)
	}
}

func TestExecuteScopeConflict(t *testing.T) {
	a := keyword("kw-a", "s5", 1.0)
	svc := newService(newMemStore(a), &fakeMutator{})

	held := distlock.NewLocalLock(execution.LockKey("s5"))
	ok, err := held.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("pre-acquire: %v %v", ok, err)
	}
	defer held.Release(context.Background())

	_, err = svc.Execute(context.Background(), execution.Request{
		ScopeID: "s5",
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionSetBid, NewValue: 2}},
	})
	if !errors.Is(err, execution.ErrScopeConflict) {
		t.Fatalf("expected ErrScopeConflict, got %v", err)
	}
}

func TestExecuteCancelledBetweenItems(t *testing.T) {
	a, b, c := keyword("kw-a", "s6", 1.0), keyword("kw-b", "s6", 1.0), keyword("kw-c", "s6", 1.0)
	store := newMemStore(a, b, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mut := &fakeMutator{after: cancel}

	cfg := execution.DefaultConfig()
	cfg.Concurrency = 1
	svc := execution.NewService(store, store, store, mut,
		performance.NewAggregator(noRows{}, ""), distlock.NewFactory(nil, nil, time.Minute), cfg)

	sum, err := svc.Execute(ctx, execution.Request{
		ScopeID: "s6",
		Items: []domain.ExecutionItem{
			{Segment: a, Action: domain.ActionSetBid, NewValue: 2},
			{Segment: b, Action: domain.ActionSetBid, NewValue: 2},
			{Segment: c, Action: domain.ActionSetBid, NewValue: 2},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sum.Batch.Status != domain.BatchCancelled {
		t.Fatalf("expected cancelled, got %s", sum.Batch.Status)
	}
	if sum.Batch.Succeeded != 1 || sum.Batch.Skipped != 2 {
		t.Fatalf("in-flight item should finish and the rest skip, got %+v", sum.Batch)
	}
}

// slowMutator ignores its context and reports success after delay.
type slowMutator struct {
	delay time.Duration
	calls atomic.Int32
}

func (m *slowMutator) Apply(context.Context, domain.Segment, domain.ActionType, float64) error {
	m.calls.Add(1)
	time.Sleep(m.delay)
	return nil
}

func TestExecuteMutationTimeout(t *testing.T) {
	a := keyword("kw-a", "s11", 1.0)
	store := newMemStore(a)
	cfg := execution.DefaultConfig()
	cfg.MutationTimeout = 50 * time.Millisecond
	svc := execution.NewService(store, store, store, &slowMutator{delay: 500 * time.Millisecond},
		performance.NewAggregator(noRows{}, ""), distlock.NewFactory(nil, nil, time.Minute), cfg)

	start := time.Now()
	sum, err := svc.Execute(context.Background(), execution.Request{
		ScopeID: "s11",
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionSetBid, NewValue: 2}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("batch waited %s for a mutator past its timeout", elapsed)
	}
	if sum.Batch.Status != domain.BatchFailed {
		t.Fatalf("expected failed batch, got %s", sum.Batch.Status)
	}
	rec := sum.Records[0]
	if rec.Status != domain.RecordFailed || !strings.Contains(rec.Error, execution.ErrMutationTimeout.Error()) {
		t.Fatalf("expected timed-out record, got %+v", rec)
	}
}

func TestExecuteSlowSuccessWithinTimeout(t *testing.T) {
	a := keyword("kw-a", "s12", 1.0)
	store := newMemStore(a)
	cfg := execution.DefaultConfig()
	cfg.MutationTimeout = time.Second
	svc := execution.NewService(store, store, store, &slowMutator{delay: 30 * time.Millisecond},
		performance.NewAggregator(noRows{}, ""), distlock.NewFactory(nil, nil, time.Minute), cfg)

	sum, err := svc.Execute(context.Background(), execution.Request{
		ScopeID: "s12",
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionSetBid, NewValue: 2}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sum.Records[0].Status != domain.RecordApplied || store.segment("kw-a").ControlValue != 2 {
		t.Fatalf("expected applied change, got %+v", sum.Records[0])
	}
}

func TestExecuteEmpty(t *testing.T) {
	svc := newService(newMemStore(), &fakeMutator{})
	if _, err := svc.Execute(context.Background(), execution.Request{ScopeID: "s7"}); !errors.Is(err, execution.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestRollbackRoundTrip(t *testing.T) {
	a := keyword("kw-a", "s8", 1.0)
	store := newMemStore(a)
	svc := newService(store, &fakeMutator{})
	ctx := context.Background()

	first, err := svc.Execute(ctx, execution.Request{
		ScopeID: "s8",
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionSetBid, NewValue: 1.5}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	orig := first.Records[0]

	rb, err := svc.Rollback(ctx, orig.ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.RollbackOf != orig.ID || rb.Reason != "rollback of #"+orig.ID {
		t.Fatalf("rollback record not linked: %+v", rb)
	}
	if rb.NewValue != 1.0 || store.segment("kw-a").ControlValue != 1.0 {
		t.Fatalf("rollback should restore 1.0, got %v", rb.NewValue)
	}
	got, _ := svc.GetRecord(ctx, orig.ID)
	if got.Status != domain.RecordRolledBack {
		t.Fatalf("original should be rolled_back, got %s", got.Status)
	}
	if _, err := svc.Rollback(ctx, orig.ID); !errors.Is(err, execution.ErrNotRollbackable) {
		t.Fatalf("second rollback should fail, got %v", err)
	}

	// Re-applying the original change lands on the original value.
	again, err := svc.Execute(ctx, execution.Request{
		ScopeID: "s8",
		Items:   []domain.ExecutionItem{{Segment: store.segment("kw-a"), Action: orig.Action, NewValue: orig.NewValue}},
	})
	if err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	if again.Records[0].NewValue != orig.NewValue || store.segment("kw-a").ControlValue != 1.5 {
		t.Fatalf("re-apply mismatch: %+v", again.Records[0])
	}

	hist, err := svc.History(ctx, "s8", "kw-a")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 ledger records, got %d", len(hist))
	}
	replayed := execution.Replay(hist)
	if replayed["kw-a"].Value != 1.5 {
		t.Fatalf("replay: got %v, want 1.5", replayed["kw-a"].Value)
	}
}

func TestRollbackPause(t *testing.T) {
	a := keyword("kw-a", "s9", 1.0)
	store := newMemStore(a)
	mut := &fakeMutator{}
	svc := newService(store, mut)
	ctx := context.Background()

	sum, err := svc.Execute(ctx, execution.Request{
		ScopeID: "s9",
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionPause}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	rb, err := svc.Rollback(ctx, sum.Records[0].ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.Action != domain.ActionEnable || store.segment("kw-a").State != domain.SegmentEnabled {
		t.Fatalf("expected enable, got %s / %s", rb.Action, store.segment("kw-a").State)
	}
}

func TestRollbackFailure(t *testing.T) {
	a := keyword("kw-a", "s10", 1.0)
	store := newMemStore(a)
	mut := &fakeMutator{}
	svc := newService(store, mut)
	ctx := context.Background()

	sum, err := svc.Execute(ctx, execution.Request{
		ScopeID: "s10",
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionSetBid, NewValue: 3}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	mut.mu.Lock()
	mut.fail = map[string]bool{"kw-a": true}
	mut.mu.Unlock()

	rec, err := svc.Rollback(ctx, sum.Records[0].ID)
	if !errors.Is(err, execution.ErrRollbackFailed) {
		t.Fatalf("expected ErrRollbackFailed, got %v", err)
	}
	if rec == nil || rec.Status != domain.RecordFailed {
		t.Fatalf("expected failed rollback record, got %+v", rec)
	}
	orig, _ := svc.GetRecord(ctx, sum.Records[0].ID)
	if orig.Status != domain.RecordApplied {
		t.Fatalf("original must stay applied, got %s", orig.Status)
	}
}

// staleLedger hands out a record and then lets onRead run before the caller
// sees it, so the caller acts on a copy that is already out of date.
type staleLedger struct {
	*memStore
	armed  atomic.Bool
	onRead func()
}

func (l *staleLedger) GetRecord(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	rec, err := l.memStore.GetRecord(ctx, id)
	if l.armed.CompareAndSwap(true, false) {
		l.onRead()
	}
	return rec, err
}

func TestRollbackRacingRollbackSendsOneReversal(t *testing.T) {
	a := keyword("kw-a", "s13", 1.0)
	store := newMemStore(a)
	mut := &fakeMutator{}
	ledger := &staleLedger{memStore: store}
	svc := execution.NewService(ledger, store, store, mut,
		performance.NewAggregator(noRows{}, ""), distlock.NewFactory(nil, nil, time.Minute), execution.DefaultConfig())
	ctx := context.Background()

	sum, err := svc.Execute(ctx, execution.Request{
		ScopeID: "s13",
		Items:   []domain.ExecutionItem{{Segment: a, Action: domain.ActionSetBid, NewValue: 1.5}},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	id := sum.Records[0].ID

	var firstErr error
	ledger.onRead = func() { _, firstErr = svc.Rollback(ctx, id) }
	ledger.armed.Store(true)

	_, err = svc.Rollback(ctx, id)
	if firstErr != nil {
		t.Fatalf("first rollback: %v", firstErr)
	}
	if !errors.Is(err, execution.ErrNotRollbackable) {
		t.Fatalf("second rollback should see the record rolled back, got %v", err)
	}

	mut.mu.Lock()
	calls := append([]string(nil), mut.calls...)
	mut.mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected one change and one reversal, got %v", calls)
	}
	batches, _ := store.ListBatches(ctx, "s13", 10)
	for _, b := range batches {
		if b.Status == domain.BatchExecuting {
			t.Fatalf("batch %s left executing", b.ID)
		}
	}
	if store.segment("kw-a").ControlValue != 1.0 {
		t.Fatalf("expected bid restored to 1.0, got %v", store.segment("kw-a").ControlValue)
	}
}

func TestRollbackPolicy(t *testing.T) {
	p := execution.DefaultRollbackPolicy()
	bad := domain.TrackingReport{Recommendation: domain.RecommendRollback, Current: domain.PerformanceWindow{Spend: 50, ROAS: 1.2}}
	if !p.ShouldRollback(bad) {
		t.Fatal("expected rollback for low-ROAS spender")
	}
	cheap := bad
	cheap.Current.Spend = 5
	if p.ShouldRollback(cheap) {
		t.Fatal("low spend should not auto-rollback")
	}
	fine := bad
	fine.Current.ROAS = 3
	if p.ShouldRollback(fine) {
		t.Fatal("healthy ROAS should not auto-rollback")
	}
	p.Enabled = false
	if p.ShouldRollback(bad) {
		t.Fatal("disabled policy should never roll back")
	}
}

func TestReplayIgnoresFailed(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := []domain.ExecutionRecord{
		{SegmentID: "x", Action: domain.ActionSetBid, PreviousValue: 1, NewValue: 2, Status: domain.RecordRolledBack, ExecutedAt: t0},
		{SegmentID: "x", Action: domain.ActionSetBid, PreviousValue: 2, NewValue: 9, Status: domain.RecordFailed, ExecutedAt: t0.Add(time.Hour)},
		{SegmentID: "x", Action: domain.ActionSetBid, PreviousValue: 2, NewValue: 1, Status: domain.RecordApplied, ExecutedAt: t0.Add(2 * time.Hour), RollbackOf: "r1"},
		{SegmentID: "y", Action: domain.ActionPause, PreviousValue: 0.5, NewValue: 0.5, Status: domain.RecordApplied, ExecutedAt: t0},
	}
	got := execution.Replay(recs)
	if got["x"].Value != 1 {
		t.Fatalf("x: got %v, want 1", got["x"].Value)
	}
	if got["y"].Value != 0.5 || got["y"].State != domain.SegmentPaused {
		t.Fatalf("y: got %+v", got["y"])
	}
}

func TestConfigValidate(t *testing.T) {
	if err := execution.DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cfg := execution.DefaultConfig()
	cfg.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/repository/postgres"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
	"github.com/ignite/spend-optimizer/internal/service/execution"
	"github.com/ignite/spend-optimizer/internal/service/review"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

var ts = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestTransitionRecord(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewLedgerRepo(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE opt_execution_records").
		WithArgs("r1", domain.RecordPending, domain.RecordApplied, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.TransitionRecord(ctx, "r1", domain.RecordPending, domain.RecordApplied, ""))

	mock.ExpectExec("UPDATE opt_execution_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	err := repo.TransitionRecord(ctx, "r1", domain.RecordPending, domain.RecordFailed, "boom")
	assert.ErrorIs(t, err, execution.ErrInvalidTransition)

	mock.ExpectExec("UPDATE opt_execution_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("r9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	err = repo.TransitionRecord(ctx, "r9", domain.RecordApplied, domain.RecordRolledBack, "")
	assert.ErrorIs(t, err, execution.ErrNotFound)

	// Rejected before touching the database.
	err = repo.TransitionRecord(ctx, "r1", domain.RecordApplied, domain.RecordPending, "")
	assert.ErrorIs(t, err, execution.ErrInvalidTransition)

	assert.NoError(t, mock.ExpectationsWereMet())
}

var recordCols = []string{"id", "batch_id", "scope_id", "segment_id", "segment_kind", "action", "previous_value",
	"new_value", "change_pct", "reason", "status", "error", "executed_at", "rollback_of"}

func TestGetRecord(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewLedgerRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM opt_execution_records WHERE id = $1")).WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow(
			"r1", "b1", "acct", "kw", "keyword", "set_bid", 1.0, 1.2, 20.0, "raise", "applied", "", ts, ""))
	rec, err := repo.GetRecord(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSetBid, rec.Action)
	assert.Equal(t, domain.RecordApplied, rec.Status)
	assert.Equal(t, 1.2, rec.NewValue)
	assert.Empty(t, rec.RollbackOf)

	mock.ExpectQuery("FROM opt_execution_records").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(recordCols))
	_, err = repo.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, execution.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryFiltersBySegment(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewLedgerRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE scope_id = $1 AND segment_id = $2")).WithArgs("acct", "kw").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("r1", "b1", "acct", "kw", "keyword", "set_bid", 1.0, 1.2, 20.0, "", "rolled_back", "", ts, "").
			AddRow("r2", "b2", "acct", "kw", "keyword", "set_bid", 1.2, 1.0, -16.7, "", "applied", "", ts.Add(time.Hour), "r1"))
	recs, err := repo.History(context.Background(), "acct", "kw")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r1", recs[1].RollbackOf)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatchDecodesBaseline(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewLedgerRepo(db)

	baseline, _ := json.Marshal(domain.PerformanceWindow{Spend: 140, Sales: 420})
	mock.ExpectQuery("FROM opt_execution_batches").WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope_id", "source", "source_id", "status", "total",
			"succeeded", "failed", "skipped", "baseline", "created_at", "started_at", "completed_at"}).
			AddRow("b1", "acct", "plan", "p1", "partially_completed", 3, 2, 1, 0, baseline, ts, ts, nil))

	b, err := repo.GetBatch(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPartiallyCompleted, b.Status)
	assert.Equal(t, 140.0, b.Baseline.Spend)
	require.NotNil(t, b.StartedAt)
	assert.Nil(t, b.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateBatchMissing(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewLedgerRepo(db)

	mock.ExpectExec("UPDATE opt_execution_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateBatch(context.Background(), &domain.ExecutionBatch{ID: "nope"})
	assert.ErrorIs(t, err, execution.ErrBatchNotFound)
}

func TestPutAnnotationKeepsFirstReport(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewAnnotationRepo(db)

	stored, _ := json.Marshal(domain.TrackingReport{RecordID: "r1", Score: 45, Recommendation: domain.RecommendKeep})
	mock.ExpectExec("ON CONFLICT \\(record_id\\) DO NOTHING").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM opt_tracking_annotations").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"report", "tracked_at"}).AddRow(stored, ts))

	got, err := repo.PutAnnotation(context.Background(), "r1", domain.Tracked{
		Report:    domain.TrackingReport{RecordID: "r1", Score: -30},
		TrackedAt: ts.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 45.0, got.Report.Score)
	assert.Equal(t, ts, got.TrackedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAnnotationUntracked(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("FROM opt_tracking_annotations").
		WillReturnRows(sqlmock.NewRows([]string{"report", "tracked_at"}))
	state, err := postgres.NewAnnotationRepo(db).GetAnnotation(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.Untracked{}, state)
}

func TestApplyPlanTransaction(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewPlanRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT scope_id FROM opt_plans").WithArgs("p2").
		WillReturnRows(sqlmock.NewRows([]string{"scope_id"}).AddRow("acct"))
	mock.ExpectExec("SET status = 'superseded'").WithArgs("acct", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET status = 'applied'").WithArgs("p2", ts, "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Apply(context.Background(), "p2", "b1", ts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlanNotApproved(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewPlanRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT scope_id FROM opt_plans").
		WillReturnRows(sqlmock.NewRows([]string{"scope_id"}))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Apply(context.Background(), "p1", "b1", ts)
	assert.ErrorIs(t, err, allocation.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueReviews(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewReviewRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND scheduled_at <= $1")).WithArgs(ts, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope_id", "prediction_id", "batch_id", "horizon",
			"scheduled_at", "status", "summary", "processed_at", "created_at"}).
			AddRow("v1", "acct", "p7", "b1", "7d", ts.Add(-time.Hour), "pending", "", nil, ts.Add(-7*24*time.Hour)))

	due, err := repo.ListDueReviews(context.Background(), ts, 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, domain.ReviewPending, due[0].Status)
	assert.Nil(t, due[0].ProcessedAt)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("UPDATE opt_reviews").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdateReview(context.Background(), &due[0]), review.ErrNotFound)
}

func TestSuggestionSetPayload(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := postgres.NewSuggestionSetRepo(db)

	set := &domain.SuggestionSet{
		ID:          "s1",
		ScopeID:     "acct",
		Suggestions: []domain.Suggestion{{Action: domain.ActionPause, Rule: "zero_sales", Priority: domain.PriorityHigh}},
		GeneratedAt: ts,
	}
	payload, err := json.Marshal(set)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO opt_suggestion_sets").WithArgs("s1", "acct", payload, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveSuggestionSet(context.Background(), set))

	mock.ExpectQuery("SELECT payload FROM opt_suggestion_sets").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	got, err := repo.GetSuggestionSet(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPause, got.Suggestions[0].Action)

	mock.ExpectQuery("SELECT payload").WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err = repo.GetSuggestionSet(context.Background(), "s2")
	assert.ErrorIs(t, err, suggestion.ErrSetNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

package snowflake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/spend-optimizer/internal/domain"
)

func TestApplyConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyConnectionString("scheme=https;ACCOUNT=HZD-WLB56571;port=443;USER=testuser;PASSWORD=testpass;DB=ADS_LAKE.REFINED;")

	assert.Equal(t, "HZD-WLB56571", cfg.Account)
	assert.Equal(t, "testuser", cfg.User)
	assert.Equal(t, "testpass", cfg.Password)
	assert.Equal(t, "ADS_LAKE", cfg.Database)
	assert.Equal(t, "REFINED", cfg.Schema)
	assert.Equal(t, "AD_SEGMENT_PERFORMANCE_DAILY", cfg.Table)
}

func TestApplyConnectionStringKeepsMissingKeys(t *testing.T) {
	cfg := Config{Schema: "PUBLIC", Warehouse: "WH"}
	cfg.ApplyConnectionString("ACCOUNT=test;USER=user;DB=mydb")

	assert.Equal(t, "mydb", cfg.Database)
	assert.Equal(t, "PUBLIC", cfg.Schema)
	assert.Equal(t, "WH", cfg.Warehouse)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Account, cfg.User, cfg.Database, cfg.Schema = "a", "u", "d", "s"
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Table = "perf; DROP TABLE x"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Account = ""
	assert.Error(t, bad.Validate())

	cfg.Table = "ADS.REFINED.DAILY"
	assert.NoError(t, cfg.Validate())
}

func TestDailyPerformance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM AD_PERF\s+WHERE PERIOD_DATE >= \? AND PERIOD_DATE < \?`).
		WithArgs("2026-03-10", "2026-03-12").
		WillReturnRows(sqlmock.NewRows([]string{"SEGMENT_ID", "PERIOD_DATE", "IMPRESSIONS", "CLICKS", "SPEND", "SALES", "ORDERS"}).
			AddRow("kw-1", day, 100, 5, 10.5, 40.0, 2).
			AddRow("kw-1", day.AddDate(0, 0, 1), 90, 4, 9.0, 0.0, 0))

	c := NewWithDB(db, "AD_PERF")
	rows, err := c.DailyPerformance(context.Background(), day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.PerformanceRecord{SegmentID: "kw-1", PeriodStart: day, Impressions: 100, Clicks: 5, Spend: 10.5, Sales: 40, Orders: 2}, rows[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeSource struct {
	rows       []domain.PerformanceRecord
	err        error
	start, end time.Time
}

func (f *fakeSource) DailyPerformance(_ context.Context, start, end time.Time) ([]domain.PerformanceRecord, error) {
	f.start, f.end = start, end
	return f.rows, f.err
}

type fakeSink struct {
	batches [][]domain.PerformanceRecord
}

func (f *fakeSink) UpsertPerformance(_ context.Context, g domain.Granularity, recs []domain.PerformanceRecord) error {
	if g != domain.GranularityDaily {
		return errors.New("unexpected granularity")
	}
	f.batches = append(f.batches, recs)
	return nil
}

func TestCollectorSyncNow(t *testing.T) {
	rows := make([]domain.PerformanceRecord, upsertBatchSize+5)
	src := &fakeSource{rows: rows}
	sink := &fakeSink{}
	c := NewCollector(src, sink, DefaultConfig())
	c.now = func() time.Time { return time.Date(2026, 3, 15, 13, 30, 0, 0, time.UTC) }

	n, err := c.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(rows), n)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), src.start)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), src.end)
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[1], 5)

	at, count := c.LastSync()
	assert.False(t, at.IsZero())
	assert.Equal(t, len(rows), count)
}

func TestCollectorSourceError(t *testing.T) {
	c := NewCollector(&fakeSource{err: errors.New("warehouse down")}, &fakeSink{}, DefaultConfig())
	_, err := c.SyncNow(context.Background())
	assert.Error(t, err)

	at, _ := c.LastSync()
	assert.True(t, at.IsZero())
}

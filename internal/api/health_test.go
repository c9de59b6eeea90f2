package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/spend-optimizer/internal/api"
)

type fixedBreaker gobreaker.State

func (b fixedBreaker) BreakerState() gobreaker.State { return gobreaker.State(b) }

func backlogRows(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func healthBody(t *testing.T, hc *api.HealthChecker, path string) (int, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	switch path {
	case "/health":
		hc.HandleHealth(rec, req)
	case "/health/ready":
		hc.HandleReadiness(rec, req)
	default:
		t.Fatalf("unexpected path %s", path)
	}
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func status(t *testing.T, body map[string]json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(body["status"], &s))
	return s
}

func TestHealthAllUp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT COUNT").WithArgs(sqlmock.AnyArg()).WillReturnRows(backlogRows(0))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hc := api.NewHealthChecker(db, rdb, fixedBreaker(gobreaker.StateClosed))
	code, body := healthBody(t, hc, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.Healthy, status(t, body))

	var checks map[string]api.ComponentCheck
	require.NoError(t, json.Unmarshal(body["checks"], &checks))
	assert.Len(t, checks, 4)
	for name, c := range checks {
		assert.Equal(t, api.StateUp, c.Status, name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthDegradedStaysReady(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT COUNT").WithArgs(sqlmock.AnyArg()).WillReturnRows(backlogRows(3))

	hc := api.NewHealthChecker(db, nil, fixedBreaker(gobreaker.StateOpen))
	code, body := healthBody(t, hc, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.Degraded, status(t, body))

	var checks map[string]api.ComponentCheck
	require.NoError(t, json.Unmarshal(body["checks"], &checks))
	assert.Equal(t, api.StateNotConfigured, checks["redis"].Status)
	assert.Equal(t, "circuit open", checks["adnetwork"].Message)
	assert.Equal(t, "3 reviews overdue", checks["reviews"].Message)
}

func TestHealthDatabaseDownNotReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery("SELECT COUNT").WithArgs(sqlmock.AnyArg()).WillReturnError(errors.New("connection refused"))

	hc := api.NewHealthChecker(db, nil, nil)
	code, body := healthBody(t, hc, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, api.Unhealthy, status(t, body))
}

func TestHealthCustomCheck(t *testing.T) {
	hc := api.NewHealthChecker(nil, nil, nil)
	hc.Register("warehouse", false, 0, func(context.Context) api.ComponentCheck {
		return api.ComponentCheck{Status: api.StateDegraded, Message: "last sync 3h ago"}
	})
	_, body := healthBody(t, hc, "/health")

	var checks map[string]api.ComponentCheck
	require.NoError(t, json.Unmarshal(body["checks"], &checks))
	assert.Equal(t, "last sync 3h ago", checks["warehouse"].Message)
	assert.Equal(t, api.Unhealthy, status(t, body))
}

func TestPerformanceFreshnessCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	check := api.PerformanceFreshnessCheck(db, 48*time.Hour)

	mock.ExpectQuery("SELECT MAX\\(period_start\\) FROM opt_performance").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(time.Now().Add(-24 * time.Hour)))
	assert.Equal(t, api.StateUp, check(context.Background()).Status)

	mock.ExpectQuery("SELECT MAX\\(period_start\\) FROM opt_performance").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(time.Now().Add(-96 * time.Hour)))
	got := check(context.Background())
	assert.Equal(t, api.StateDegraded, got.Status)
	assert.Contains(t, got.Message, "old")

	mock.ExpectQuery("SELECT MAX\\(period_start\\) FROM opt_performance").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	assert.Equal(t, "no performance data", check(context.Background()).Message)

	assert.NoError(t, mock.ExpectationsWereMet())
}

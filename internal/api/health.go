package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/ignite/spend-optimizer/internal/pkg/httputil"
)

// Component states reported by a check.
const (
	StateUp            = "up"
	StateDegraded      = "degraded"
	StateDown          = "down"
	StateNotConfigured = "not_configured"
)

// Overall service states.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// ComponentCheck is the result of one check.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is the /health body.
type HealthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) ComponentCheck

type namedCheck struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       CheckFunc
}

// BreakerStater reports the ad network circuit breaker state.
type BreakerStater interface {
	BreakerState() gobreaker.State
}

// HealthChecker runs registered checks concurrently. A critical check that
// is down makes the service unhealthy and fails readiness; anything else not
// up only degrades it.
type HealthChecker struct {
	checks  []namedCheck
	started time.Time
}

// NewHealthChecker registers the database (critical), Redis, ad network
// breaker and review backlog checks. Any dependency may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, adnetwork BreakerStater) *HealthChecker {
	hc := &HealthChecker{started: time.Now()}
	hc.Register("database", true, 3*time.Second, databaseCheck(db))
	hc.Register("redis", false, 2*time.Second, redisCheck(redisClient))
	hc.Register("adnetwork", false, 0, breakerCheck(adnetwork))
	hc.Register("reviews", false, 3*time.Second, reviewBacklogCheck(db, time.Hour))
	return hc
}

// Register adds a check. A zero timeout runs fn with the request context.
func (hc *HealthChecker) Register(name string, critical bool, timeout time.Duration, fn CheckFunc) {
	hc.checks = append(hc.checks, namedCheck{name: name, critical: critical, timeout: timeout, fn: fn})
}

// HandleHealth always answers 200; the body carries the status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks, overall := hc.run(r.Context())
	httputil.OK(w, HealthStatus{
		Status: overall,
		Uptime: hc.uptime(),
		Checks: checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "alive", "uptime": hc.uptime()})
}

// HandleReadiness answers 503 while a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks, overall := hc.run(r.Context())
	status := http.StatusOK
	if overall == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  overall != Unhealthy,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) uptime() string {
	return time.Since(hc.started).Round(time.Second).String()
}

func (hc *HealthChecker) run(ctx context.Context) (map[string]ComponentCheck, string) {
	results := make([]ComponentCheck, len(hc.checks))
	var wg sync.WaitGroup
	for i, c := range hc.checks {
		wg.Add(1)
		go func(i int, c namedCheck) {
			defer wg.Done()
			cctx := ctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, c.timeout)
				defer cancel()
			}
			results[i] = c.fn(cctx)
		}(i, c)
	}
	wg.Wait()

	out := make(map[string]ComponentCheck, len(results))
	overall := Healthy
	for i, c := range hc.checks {
		r := results[i]
		out[c.name] = r
		switch {
		case c.critical && r.Status == StateDown:
			overall = Unhealthy
		case overall == Healthy && (r.Status == StateDown || r.Status == StateDegraded):
			overall = Degraded
		}
	}
	return out, overall
}

func timed(fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	return time.Since(start), err
}

func databaseCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) ComponentCheck {
		if db == nil {
			return ComponentCheck{Status: StateDown, Message: "not configured"}
		}
		latency, err := timed(func() error { return db.PingContext(ctx) })
		switch {
		case err != nil:
			return ComponentCheck{Status: StateDown, Latency: latency.String(), Message: err.Error()}
		case latency > time.Second:
			return ComponentCheck{Status: StateDegraded, Latency: latency.String(), Message: "slow ping"}
		}
		return ComponentCheck{Status: StateUp, Latency: latency.String()}
	}
}

// Redis only backs distributed locks, which fall back to advisory locks.
func redisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) ComponentCheck {
		if client == nil {
			return ComponentCheck{Status: StateNotConfigured, Message: "locks use postgres"}
		}
		latency, err := timed(func() error { return client.Ping(ctx).Err() })
		if err != nil {
			return ComponentCheck{Status: StateDegraded, Latency: latency.String(), Message: err.Error()}
		}
		return ComponentCheck{Status: StateUp, Latency: latency.String()}
	}
}

func breakerCheck(b BreakerStater) CheckFunc {
	return func(context.Context) ComponentCheck {
		if b == nil {
			return ComponentCheck{Status: StateNotConfigured}
		}
		st := b.BreakerState()
		if st == gobreaker.StateClosed {
			return ComponentCheck{Status: StateUp, Message: "circuit closed"}
		}
		return ComponentCheck{Status: StateDegraded, Message: "circuit " + st.String()}
	}
}

// reviewBacklogCheck degrades when pending reviews are overdue by more than
// grace, which means no worker is processing them.
func reviewBacklogCheck(db *sql.DB, grace time.Duration) CheckFunc {
	return func(ctx context.Context) ComponentCheck {
		if db == nil {
			return ComponentCheck{Status: StateNotConfigured}
		}
		var overdue int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM opt_reviews WHERE status = 'pending' AND scheduled_at < $1`,
			time.Now().UTC().Add(-grace),
		).Scan(&overdue)
		switch {
		case err != nil:
			return ComponentCheck{Status: StateDegraded, Message: err.Error()}
		case overdue > 0:
			return ComponentCheck{Status: StateDegraded, Message: fmt.Sprintf("%d reviews overdue", overdue)}
		}
		return ComponentCheck{Status: StateUp}
	}
}

// PerformanceFreshnessCheck degrades when the newest imported performance
// row is older than maxAge. Servers fed by the warehouse sync register it.
func PerformanceFreshnessCheck(db *sql.DB, maxAge time.Duration) CheckFunc {
	return func(ctx context.Context) ComponentCheck {
		if db == nil {
			return ComponentCheck{Status: StateNotConfigured}
		}
		var latest sql.NullTime
		if err := db.QueryRowContext(ctx, `SELECT MAX(period_start) FROM opt_performance`).Scan(&latest); err != nil {
			return ComponentCheck{Status: StateDegraded, Message: err.Error()}
		}
		if !latest.Valid {
			return ComponentCheck{Status: StateDegraded, Message: "no performance data"}
		}
		age := time.Since(latest.Time).Round(time.Hour)
		if age > maxAge {
			return ComponentCheck{Status: StateDegraded, Message: fmt.Sprintf("newest data is %s old", age)}
		}
		return ComponentCheck{Status: StateUp, Message: "newest period " + latest.Time.UTC().Format("2006-01-02")}
	}
}

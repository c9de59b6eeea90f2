// Package app assembles the optimizer from configuration: stores, scope
// locks, the ad network client, notifications, archive and metrics.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/spend-optimizer/internal/adnetwork"
	"github.com/ignite/spend-optimizer/internal/archive"
	"github.com/ignite/spend-optimizer/internal/config"
	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/engine"
	"github.com/ignite/spend-optimizer/internal/notify"
	"github.com/ignite/spend-optimizer/internal/performance"
	"github.com/ignite/spend-optimizer/internal/pkg/distlock"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
	"github.com/ignite/spend-optimizer/internal/repository/memory"
	"github.com/ignite/spend-optimizer/internal/repository/postgres"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
	"github.com/ignite/spend-optimizer/internal/service/execution"
	"github.com/ignite/spend-optimizer/internal/service/prediction"
	"github.com/ignite/spend-optimizer/internal/service/review"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
	"github.com/ignite/spend-optimizer/internal/service/tracking"
)

// SegmentStore is everything the services need from the segment table.
type SegmentStore interface {
	allocation.SegmentLister
	execution.SegmentStore
}

// Stores groups the persistence adapters.
type Stores struct {
	Segments       SegmentStore
	Performance    performance.Source
	Plans          allocation.PlanRepository
	SuggestionSets suggestion.SetRepository
	Predictions    prediction.Repository
	Ledger         execution.Ledger
	Batches        execution.BatchRepository
	Annotations    tracking.Repository
	Reviews        review.Repository
}

// MemoryStores backs every store with one in-memory Store.
func MemoryStores(s *memory.Store) Stores {
	return Stores{
		Segments:       s,
		Performance:    s,
		Plans:          s.Plans(),
		SuggestionSets: s,
		Predictions:    s,
		Ledger:         s,
		Batches:        s,
		Annotations:    s,
		Reviews:        s,
	}
}

// PostgresStores backs every store with PostgreSQL.
func PostgresStores(db *sql.DB) Stores {
	segments := postgres.NewSegmentRepo(db)
	ledger := postgres.NewLedgerRepo(db)
	return Stores{
		Segments:       segments,
		Performance:    segments,
		Plans:          postgres.NewPlanRepo(db),
		SuggestionSets: postgres.NewSuggestionSetRepo(db),
		Predictions:    postgres.NewPredictionRepo(db),
		Ledger:         ledger,
		Batches:        ledger,
		Annotations:    postgres.NewAnnotationRepo(db),
		Reviews:        postgres.NewReviewRepo(db),
	}
}

// Options are the non-store collaborators of the engine.
type Options struct {
	Mutator    execution.Mutator
	Locks      distlock.Factory
	Notifier   engine.Notifier
	Archiver   engine.Archiver
	Registerer prometheus.Registerer
	Clock      func() time.Time
}

// NewEngine wires the services over st.
func NewEngine(cfg *config.Config, st Stores, opts Options) (*engine.Engine, *engine.Metrics) {
	if opts.Locks == nil {
		opts.Locks = distlock.NewFactory(nil, nil, cfg.Execution.LockTTL)
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	agg := performance.NewAggregator(st.Performance, "")

	alloc := allocation.NewService(st.Segments, agg, st.Plans, cfg.Allocation)
	sugg := suggestion.NewService(st.Segments, agg, cfg.Suggestion)
	pred := prediction.NewService(st.Predictions, cfg.Prediction)
	exec := execution.NewService(st.Ledger, st.Batches, st.Segments, opts.Mutator, agg, opts.Locks, cfg.Execution)
	track := tracking.NewService(st.Ledger, st.Annotations, agg, cfg.Tracking)
	rev := review.NewService(st.Reviews, st.Ledger, track, cfg.Review)
	if opts.Clock != nil {
		alloc.SetClock(opts.Clock)
		sugg.SetClock(opts.Clock)
		pred.SetClock(opts.Clock)
		exec.SetClock(opts.Clock)
	}

	metrics := engine.NewMetrics(opts.Registerer)
	eng := engine.New(engine.Deps{
		Allocation:     alloc,
		Suggestions:    sugg,
		SuggestionSets: st.SuggestionSets,
		Predictions:    pred,
		Execution:      exec,
		Tracking:       track,
		Reviews:        rev,
		Segments:       st.Segments,
		Notifier:       opts.Notifier,
		Archiver:       opts.Archiver,
		Metrics:        metrics,
	})
	if opts.Clock != nil {
		eng.SetClock(opts.Clock)
	}
	return eng, metrics
}

// Runtime is a fully connected optimizer.
type Runtime struct {
	Engine    *engine.Engine
	Metrics   *engine.Metrics
	Registry  *prometheus.Registry
	DB        *sql.DB
	Redis     *redis.Client
	AdNetwork *adnetwork.Client
}

// Close releases the connections.
func (r *Runtime) Close() {
	if r.Redis != nil {
		r.Redis.Close()
	}
	if r.DB != nil {
		r.DB.Close()
	}
}

// OpenDB connects to PostgreSQL and applies the pool settings.
func OpenDB(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Open connects every external dependency named by cfg and builds the
// engine. Redis, SES and the archive are optional.
func Open(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	log := logger.Component("app")
	rt := &Runtime{Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rt.DB = db

	if cfg.Redis.Addr != "" {
		rt.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, scope locks fall back to postgres", "error", err.Error())
			rt.Redis.Close()
			rt.Redis = nil
		}
	}

	var notifier engine.Notifier = notify.NewLogNotifier()
	if cfg.Notify.Enabled {
		ses, err := notify.NewSESClient(ctx, cfg.Notify)
		if err != nil {
			rt.Close()
			return nil, err
		}
		notifier = notify.NewEmailNotifier(ses, cfg.Notify)
	}

	var archiver engine.Archiver = archive.Noop{}
	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			rt.Close()
			return nil, err
		}
		archiver = a
	}

	rt.AdNetwork = adnetwork.NewClient(cfg.AdNetwork, nil)
	rt.Engine, rt.Metrics = NewEngine(cfg, PostgresStores(db), Options{
		Mutator:    rt.AdNetwork,
		Locks:      distlock.NewFactory(rt.Redis, db, cfg.Execution.LockTTL),
		Notifier:   notifier,
		Archiver:   archiver,
		Registerer: rt.Registry,
	})
	log.Info("optimizer ready", "redis", rt.Redis != nil, "notify", cfg.Notify.Enabled, "archive", cfg.Archive.Enabled)
	return rt, nil
}

// DryRun is a Mutator that only logs. The optctl command uses it against
// the in-memory store.
type DryRun struct{}

func (DryRun) Apply(_ context.Context, seg domain.Segment, action domain.ActionType, value float64) error {
	logger.Component("dry-run").Info("mutation", "segment", seg.ID, "action", string(action), "value", value)
	return nil
}

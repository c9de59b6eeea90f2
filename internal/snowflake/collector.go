package snowflake

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

const upsertBatchSize = 1000

// Source is the warehouse side of a sync.
type Source interface {
	DailyPerformance(ctx context.Context, start, end time.Time) ([]domain.PerformanceRecord, error)
}

// Sink stores imported rows.
type Sink interface {
	UpsertPerformance(ctx context.Context, g domain.Granularity, recs []domain.PerformanceRecord) error
}

// Collector periodically copies the last few days of warehouse rows into
// the sink. Late-arriving attribution is picked up because every sync
// re-reads the whole lookback window.
type Collector struct {
	src      Source
	sink     Sink
	interval time.Duration
	lookback int
	now      func() time.Time
	log      *logger.Logger

	mu       sync.RWMutex
	lastSync time.Time
	lastRows int
}

// NewCollector creates a collector from the sync settings in cfg.
func NewCollector(src Source, sink Sink, cfg Config) *Collector {
	return &Collector{
		src:      src,
		sink:     sink,
		interval: cfg.SyncInterval,
		lookback: cfg.LookbackDays,
		now:      time.Now,
		log:      logger.Component("snowflake"),
	}
}

// Start syncs immediately and then every interval until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	c.log.Info("starting", "interval", c.interval.String(), "lookback_days", c.lookback)
	c.syncAndLog(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncAndLog(ctx)
		}
	}
}

func (c *Collector) syncAndLog(ctx context.Context) {
	n, err := c.SyncNow(ctx)
	if err != nil {
		c.log.Error("sync failed", "error", err.Error())
		return
	}
	c.log.Info("sync done", "rows", n)
}

// SyncNow imports the lookback window ending today (exclusive) and returns
// the number of rows written.
func (c *Collector) SyncNow(ctx context.Context) (int, error) {
	end := c.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -c.lookback)

	rows, err := c.src.DailyPerformance(ctx, start, end)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(rows); i += upsertBatchSize {
		j := min(i+upsertBatchSize, len(rows))
		if err := c.sink.UpsertPerformance(ctx, domain.GranularityDaily, rows[i:j]); err != nil {
			return i, err
		}
	}

	c.mu.Lock()
	c.lastSync = c.now()
	c.lastRows = len(rows)
	c.mu.Unlock()
	return len(rows), nil
}

// LastSync returns the time and row count of the last successful sync.
func (c *Collector) LastSync() (time.Time, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync, c.lastRows
}

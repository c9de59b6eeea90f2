package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	"github.com/ignite/spend-optimizer/internal/domain"
)

// Client reads performance rows from the warehouse.
type Client struct {
	db    *sql.DB
	table string
}

// NewClient opens a Snowflake connection.
func NewClient(cfg Config) (*Client, error) {
	// Format: user:password@account/database/schema?warehouse=xxx
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s", cfg.User, cfg.Password, cfg.Account, cfg.Database, cfg.Schema)
	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewWithDB(db, cfg.Table), nil
}

// NewWithDB wraps an open connection. table must already be validated.
func NewWithDB(db *sql.DB, table string) *Client {
	return &Client{db: db, table: table}
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DailyPerformance returns one row per segment and day with
// start <= PERIOD_DATE < end.
func (c *Client) DailyPerformance(ctx context.Context, start, end time.Time) ([]domain.PerformanceRecord, error) {
	query := `
		SELECT SEGMENT_ID, PERIOD_DATE, IMPRESSIONS, CLICKS, SPEND, SALES, ORDERS
		FROM ` + c.table + `
		WHERE PERIOD_DATE >= ? AND PERIOD_DATE < ?
		ORDER BY SEGMENT_ID, PERIOD_DATE
	`
	rows, err := c.db.QueryContext(ctx, query, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily performance: %w", err)
	}
	defer rows.Close()

	var out []domain.PerformanceRecord
	for rows.Next() {
		var p domain.PerformanceRecord
		if err := rows.Scan(&p.SegmentID, &p.PeriodStart, &p.Impressions, &p.Clicks, &p.Spend, &p.Sales, &p.Orders); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		p.PeriodStart = p.PeriodStart.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

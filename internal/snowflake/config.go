// Package snowflake imports daily segment performance from a Snowflake
// warehouse into the optimizer's own performance table.
package snowflake

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Config holds the warehouse connection and sync settings.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Account      string        `yaml:"account"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	Schema       string        `yaml:"schema"`
	Warehouse    string        `yaml:"warehouse"`
	Table        string        `yaml:"table"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	LookbackDays int           `yaml:"lookback_days"`
}

// DefaultConfig returns the sync defaults. The warehouse is disabled.
func DefaultConfig() Config {
	return Config{
		Table:        "AD_SEGMENT_PERFORMANCE_DAILY",
		SyncInterval: time.Hour,
		LookbackDays: 3,
	}
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Validate checks the settings of an enabled warehouse.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Account == "" || c.User == "":
		return errors.New("snowflake: account and user are required")
	case c.Database == "" || c.Schema == "":
		return errors.New("snowflake: database and schema are required")
	case !tableName.MatchString(c.Table):
		return errors.New("snowflake: table must be a plain identifier")
	case c.SyncInterval <= 0:
		return errors.New("snowflake: sync_interval must be positive")
	case c.LookbackDays <= 0:
		return errors.New("snowflake: lookback_days must be positive")
	}
	return nil
}

// ApplyConnectionString fills the connection fields from a connection
// string of the form
// "ACCOUNT=xxx;USER=zzz;PASSWORD=www;DB=database.schema;WAREHOUSE=wh".
// Keys that are absent leave the current value alone.
func (c *Config) ApplyConnectionString(connStr string) {
	parts := make(map[string]string)
	for _, kv := range strings.Split(connStr, ";") {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			parts[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
		}
	}

	set := func(dst *string, key string) {
		if v := parts[key]; v != "" {
			*dst = v
		}
	}
	set(&c.Account, "ACCOUNT")
	set(&c.User, "USER")
	set(&c.Password, "PASSWORD")
	set(&c.Warehouse, "WAREHOUSE")
	if db := parts["DB"]; db != "" {
		database, schema, _ := strings.Cut(db, ".")
		c.Database = database
		if schema != "" {
			c.Schema = schema
		}
	}
}

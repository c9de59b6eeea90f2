package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/spend-optimizer/internal/adnetwork"
	"github.com/ignite/spend-optimizer/internal/archive"
	"github.com/ignite/spend-optimizer/internal/notify"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
	"github.com/ignite/spend-optimizer/internal/service/execution"
	"github.com/ignite/spend-optimizer/internal/service/prediction"
	"github.com/ignite/spend-optimizer/internal/service/review"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
	"github.com/ignite/spend-optimizer/internal/service/tracking"
	"github.com/ignite/spend-optimizer/internal/snowflake"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Log       LogConfig        `yaml:"log"`
	Worker    WorkerConfig     `yaml:"worker"`
	AdNetwork adnetwork.Config `yaml:"adnetwork"`
	Notify    notify.Config    `yaml:"notify"`
	Archive   archive.Config   `yaml:"archive"`
	Warehouse snowflake.Config `yaml:"warehouse"`

	Allocation allocation.Config `yaml:"allocation"`
	Suggestion suggestion.Config `yaml:"suggestion"`
	Prediction prediction.Config `yaml:"prediction"`
	Execution  execution.Config  `yaml:"execution"`
	Tracking   tracking.Config   `yaml:"tracking"`
	Review     review.Config     `yaml:"review"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	APIKey         string        `yaml:"api_key"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the Redis settings used for the scope lock. An empty
// address falls back to PostgreSQL advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig controls the structured logger
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// WorkerConfig controls the review worker
type WorkerConfig struct {
	// Schedule is a cron spec; the default runs every fifteen minutes.
	Schedule string `yaml:"schedule"`
	// RunOnStart processes due reviews once before the first tick.
	RunOnStart bool `yaml:"run_on_start"`
}

// Defaults returns a config with every default applied.
func Defaults() *Config {
	adn := adnetwork.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "localhost",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   120 * time.Second,
		},
		Database:   DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute},
		Log:        LogConfig{Level: "info", RedactPII: true},
		Worker:     WorkerConfig{Schedule: "*/15 * * * *", RunOnStart: true},
		AdNetwork:  adn,
		Notify:     notify.Config{Region: "us-east-1"},
		Archive:    archive.Config{Region: "us-east-1", Prefix: "spend-optimizer/", ReportTTL: 365 * 24 * time.Hour},
		Warehouse:  snowflake.DefaultConfig(),
		Allocation: allocation.DefaultConfig(),
		Suggestion: suggestion.DefaultConfig(),
		Prediction: prediction.DefaultConfig(),
		Execution:  execution.DefaultConfig(),
		Tracking:   tracking.DefaultConfig(),
		Review:     review.DefaultConfig(),
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS. An
// empty path skips the file and starts from the defaults.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ADNETWORK_API_KEY"); v != "" {
		cfg.AdNetwork.APIKey = v
	}
	if v := os.Getenv("ADNETWORK_BASE_URL"); v != "" {
		cfg.AdNetwork.BaseURL = v
	}
	if v := os.Getenv("ADNETWORK_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.AdNetwork.OAuth.ClientSecret = v
	}
	if v := os.Getenv("ADNETWORK_OAUTH_REFRESH_TOKEN"); v != "" {
		cfg.AdNetwork.OAuth.RefreshToken = v
	}
	if v := os.Getenv("SES_ACCESS_KEY"); v != "" {
		cfg.Notify.AccessKey = v
	}
	if v := os.Getenv("SES_SECRET_KEY"); v != "" {
		cfg.Notify.SecretKey = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("SNOWFLAKE_CONNECTION"); v != "" {
		cfg.Warehouse.ApplyConnectionString(v)
		cfg.Warehouse.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// ValidateServices checks the optimizer settings only. Used by offline
// tooling that runs without a database or ad network.
func (c *Config) ValidateServices() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"allocation", c.Allocation.Validate},
		{"suggestion", c.Suggestion.Validate},
		{"prediction", c.Prediction.Validate},
		{"execution", c.Execution.Validate},
		{"tracking", c.Tracking.Validate},
		{"review", c.Review.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}

// Validate checks the assembled configuration for the server and worker.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url (DATABASE_URL) is required")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be positive")
	}
	if err := c.AdNetwork.Validate(); err != nil {
		return err
	}
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	if err := c.Archive.Validate(); err != nil {
		return err
	}
	if err := c.Warehouse.Validate(); err != nil {
		return err
	}
	return c.ValidateServices()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/spend-optimizer/internal/api"
	"github.com/ignite/spend-optimizer/internal/app"
	"github.com/ignite/spend-optimizer/internal/config"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v\n"+
			"  Hint: Run 'lsof -i :PORT' to find the blocking process", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (environment only when empty)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.RedactPII)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start optimizer: %v", err)
	}
	defer rt.Close()

	health := api.NewHealthChecker(rt.DB, rt.Redis, rt.AdNetwork)
	if cfg.Warehouse.Enabled {
		health.Register("performance", false, 3*time.Second, api.PerformanceFreshnessCheck(rt.DB, 48*time.Hour))
	}

	router := api.SetupRoutes(
		api.NewHandlers(rt.Engine),
		health,
		api.RouterConfig{
			APIKey:         cfg.Server.APIKey,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Gatherer:       rt.Registry,
		},
	)
	if cfg.Server.APIKey == "" {
		logger.Warn("API key not set, /api/v1 is unauthenticated")
	}

	srv := api.NewServer(addr, router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ignite/spend-optimizer/internal/app"
	"github.com/ignite/spend-optimizer/internal/config"
	"github.com/ignite/spend-optimizer/internal/pkg/distlock"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
	"github.com/ignite/spend-optimizer/internal/repository/postgres"
	"github.com/ignite/spend-optimizer/internal/snowflake"
	"github.com/ignite/spend-optimizer/internal/worker"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start optimizer: %v", err)
	}
	defer rt.Close()

	locks := distlock.NewFactory(rt.Redis, rt.DB, cfg.Execution.LockTTL)
	reviews := worker.NewReviewWorker(rt.Engine, locks, cfg.Worker.Schedule)
	retention := worker.NewRetentionWorker(rt.DB)

	var wg sync.WaitGroup
	if cfg.Warehouse.Enabled {
		sf, err := snowflake.NewClient(cfg.Warehouse)
		if err != nil {
			log.Fatalf("Failed to open warehouse: %v", err)
		}
		defer sf.Close()
		collector := snowflake.NewCollector(sf, postgres.NewSegmentRepo(rt.DB), cfg.Warehouse)
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.Start(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := reviews.Start(ctx, cfg.Worker.RunOnStart); err != nil {
			log.Printf("Review worker failed: %v", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		retention.Start(ctx)
	}()

	log.Println("Worker running...")
	<-ctx.Done()
	log.Println("Shutting down worker...")
	wg.Wait()
	log.Println("Worker stopped")
}

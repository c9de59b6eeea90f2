package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ignite/spend-optimizer/internal/app"
	"github.com/ignite/spend-optimizer/internal/config"
	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/engine"
	"github.com/ignite/spend-optimizer/internal/repository/memory"
)

// fixture is the input of a simulation: a scope's segments and their
// performance history.
type fixture struct {
	Segments    []domain.Segment           `json:"segments"`
	Performance []domain.PerformanceRecord `json:"performance"`
}

var (
	simFixture string
	simAsOf    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate, approve and dry-run a plan against a fixture file",
	Long: `simulate loads segments and performance from a JSON fixture into an
in-memory store, then generates a plan, approves it and executes it with a
mutator that only logs. Nothing touches the database or the ad network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadFixture(simFixture)
		if err != nil {
			return err
		}
		asOf := time.Now().UTC()
		if simAsOf != "" {
			if asOf, err = time.Parse("2006-01-02", simAsOf); err != nil {
				return fmt.Errorf("--as-of: %w", err)
			}
		}
		res, err := simulate(cmd, f, asOf)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func loadFixture(path string) (*fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()
	return decodeFixture(file)
}

func decodeFixture(r io.Reader) (*fixture, error) {
	var f fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if len(f.Segments) == 0 {
		return nil, fmt.Errorf("fixture has no segments")
	}
	return &f, nil
}

func simulate(cmd *cobra.Command, f *fixture, asOf time.Time) (*engine.ExecutionResult, error) {
	store := memory.NewStore()
	store.PutSegments(f.Segments...)
	store.AddPerformance(f.Performance...)

	cfg := config.Defaults()
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ValidateServices(); err != nil {
		return nil, err
	}
	eng, _ := app.NewEngine(cfg, app.MemoryStores(store), app.Options{
		Mutator:    app.DryRun{},
		Registerer: prometheus.NewRegistry(),
		Clock:      func() time.Time { return asOf },
	})

	req := planRequest()
	if req.ScopeID == "" {
		req.ScopeID = f.Segments[0].ScopeID
	}
	ctx := cmd.Context()
	planned, err := eng.GenerateAllocationPlan(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := eng.ApprovePlan(ctx, planned.Plan.ID); err != nil {
		return nil, err
	}
	return eng.ExecutePlan(ctx, planned.Plan.ID)
}

func init() {
	addPlanFlags(simulateCmd)
	simulateCmd.Flags().StringVar(&simFixture, "fixture", "", "JSON file with segments and performance rows")
	simulateCmd.Flags().StringVar(&simAsOf, "as-of", "", "Simulated current date (YYYY-MM-DD)")
	simulateCmd.MarkFlagRequired("fixture")
	simulateCmd.MarkFlagRequired("budget")

	rootCmd.AddCommand(simulateCmd)
}

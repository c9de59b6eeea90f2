package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ignite/spend-optimizer/internal/app"
	"github.com/ignite/spend-optimizer/internal/config"
	"github.com/ignite/spend-optimizer/internal/engine"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

var (
	configPath string
	logLevel   string

	// runtime is opened by commands that talk to the database.
	runtime *app.Runtime
)

// rootCmd is the base command for the optimizer CLI.
var rootCmd = &cobra.Command{
	Use:   "optctl",
	Short: "Operate the spend optimizer",
	Long: `optctl generates allocation plans and suggestions, executes them
against the ad network, and inspects the execution ledger.

Examples:
  optctl plan --scope acct-1 --budget 500 --target-roas 3
  optctl execute-plan 7b1c...
  optctl history --scope acct-1
  optctl simulate --fixture testdata/scope.json --budget 100 --target-roas 3`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetLevel(logger.ParseLevel(logLevel))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if runtime != nil {
			runtime.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
}

// openEngine connects to the configured database and returns the engine.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	rt, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runtime = rt
	return rt.Engine, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

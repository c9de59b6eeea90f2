package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
)

var (
	planScope      string
	planKind       string
	planBudget     float64
	planTargetROAS float64
	planTargetACoS float64
	planMin        float64
	planMax        float64
	planDays       int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate a proposed allocation plan for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		res, err := eng.GenerateAllocationPlan(cmd.Context(), planRequest())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve PLAN_ID",
	Short: "Approve a proposed plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		plan, err := eng.ApprovePlan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

var executePlanCmd = &cobra.Command{
	Use:   "execute-plan PLAN_ID",
	Short: "Execute an approved plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		res, err := eng.ExecutePlan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var (
	suggestScope string
	suggestDays  int
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Generate rule-based suggestions for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		var start, end time.Time
		if suggestDays > 0 {
			end = time.Now().UTC().Truncate(24 * time.Hour)
			start = end.AddDate(0, 0, -suggestDays)
		}
		set, err := eng.GenerateSuggestions(cmd.Context(), suggestScope, start, end)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), set)
	},
}

var executeSuggestionsCmd = &cobra.Command{
	Use:   "execute-suggestions SET_ID [SEGMENT_ID...]",
	Short: "Execute a suggestion set, optionally only for some segments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		res, err := eng.ExecuteSuggestions(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// planRequest builds the request from the plan flags. The window is left
// empty when --days is zero so the configured lookback applies.
func planRequest() allocation.PlanRequest {
	req := allocation.PlanRequest{
		ScopeID:     planScope,
		Kind:        domain.SegmentKind(planKind),
		TotalBudget: planBudget,
		TargetROAS:  planTargetROAS,
		TargetACoS:  planTargetACoS,
		Bounds:      domain.Bounds{Min: planMin, Max: planMax},
	}
	if planDays > 0 {
		req.WindowEnd = time.Now().UTC().Truncate(24 * time.Hour)
		req.WindowStart = req.WindowEnd.AddDate(0, 0, -planDays)
	}
	return req
}

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&planScope, "scope", "", "Scope (account or portfolio) ID")
	cmd.Flags().StringVar(&planKind, "kind", "", "Segment kind (default placement)")
	cmd.Flags().Float64Var(&planBudget, "budget", 0, "Total budget to allocate")
	cmd.Flags().Float64Var(&planTargetROAS, "target-roas", 0, "Target ROAS")
	cmd.Flags().Float64Var(&planTargetACoS, "target-acos", 0, "Target ACoS in percent (instead of --target-roas)")
	cmd.Flags().Float64Var(&planMin, "min", 0, "Lower control bound")
	cmd.Flags().Float64Var(&planMax, "max", 900, "Upper control bound")
	cmd.Flags().IntVar(&planDays, "days", 0, "Lookback window in days (0 uses the configured default)")
}

func init() {
	addPlanFlags(planCmd)
	planCmd.MarkFlagRequired("scope")
	planCmd.MarkFlagRequired("budget")

	suggestCmd.Flags().StringVar(&suggestScope, "scope", "", "Scope ID")
	suggestCmd.Flags().IntVar(&suggestDays, "days", 0, "Lookback window in days (0 uses the configured default)")
	suggestCmd.MarkFlagRequired("scope")

	rootCmd.AddCommand(planCmd, approveCmd, executePlanCmd, suggestCmd, executeSuggestionsCmd)
}

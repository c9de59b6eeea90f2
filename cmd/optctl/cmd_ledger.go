package main

import (
	"github.com/spf13/cobra"
)

var (
	historyScope   string
	historySegment string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the execution ledger of a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		recs, err := eng.History(cmd.Context(), historyScope, historySegment)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reconstruct segment values from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		state, err := eng.Replay(cmd.Context(), historyScope)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), state)
	},
}

var trackCmd = &cobra.Command{
	Use:   "track RECORD_ID",
	Short: "Show the tracking report of an executed change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		out, err := eng.GetTrackingReport(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback RECORD_ID",
	Short: "Restore a segment to its value before a change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := eng.Rollback(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var processReviewsCmd = &cobra.Command{
	Use:   "process-reviews",
	Short: "Process every review that has come due",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		sum, err := eng.ProcessDueReviews(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sum)
	},
}

func init() {
	for _, c := range []*cobra.Command{historyCmd, replayCmd} {
		c.Flags().StringVar(&historyScope, "scope", "", "Scope ID")
		c.MarkFlagRequired("scope")
	}
	historyCmd.Flags().StringVar(&historySegment, "segment", "", "Only this segment")

	rootCmd.AddCommand(historyCmd, replayCmd, trackCmd, rollbackCmd, processReviewsCmd)
}

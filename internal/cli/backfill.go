package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill [sessionID]",
	Short: "Reconstruct conversation chains",
	Long: `Run chain backfill. With a session ID, backfills that session only;
without one, discovers and backfills pending sessions.

Examples:
  vectordb backfill
  vectordb backfill abc-session-1
  vectordb backfill --max-sessions 50`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackfill,
}

var backfillMaxSessions int

func init() {
	backfillCmd.Flags().IntVar(&backfillMaxSessions, "max-sessions", 10, "Maximum pending sessions to process")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(args) == 1 {
		stats, err := svc.BackfillSession(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
		printJSON(stats)
		return nil
	}

	all, err := svc.BackfillPending(cmd.Context(), backfillMaxSessions)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("No pending sessions.")
		return nil
	}
	if verbose {
		printJSON(all)
		return nil
	}
	for _, stats := range all {
		fmt.Printf("%s: %d links, %d updated, %d skipped (%dms)\n",
			stats.SessionID, stats.LinksBuilt, stats.RecordsUpdated, stats.RecordsSkipped, stats.ElapsedMs)
	}
	return nil
}

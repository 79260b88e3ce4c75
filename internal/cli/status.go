package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store health and cache metrics",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	if verbose {
		printJSON(report)
		return nil
	}
	fmt.Printf("Records:          %d\n", report.RecordCount)
	fmt.Printf("Chain coverage:   %.1f%%\n", report.ChainCoverage*100)
	fmt.Printf("Pending sessions: %d\n", report.PendingSessions)
	fmt.Printf("Cache hit rate:   %.1f%%\n", report.CacheHitRate*100)
	fmt.Printf("Avg latency:      %.2fms\n", report.AvgLatencyMs)
	embedState := "online"
	if !report.EmbeddingOnline {
		embedState = "offline"
	}
	fmt.Printf("Embedding:        %s\n", embedState)
	return nil
}

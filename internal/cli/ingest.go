package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <transcript.jsonl> [more.jsonl...]",
	Short: "Ingest conversation transcripts",
	Long: `Ingest one or more JSONL transcript files. Records already present
(by content hash) are skipped, so re-ingesting a file is safe.

Examples:
  vectordb ingest session.jsonl
  vectordb ingest logs/*.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, path := range args {
		stats, err := svc.IngestTranscript(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		if verbose {
			printJSON(stats)
		} else {
			fmt.Printf("%s: %d written, %d duplicates skipped, %d failed\n",
				path, stats.Written, stats.SkippedDuplicate, stats.Failed)
		}
		for _, issue := range stats.Issues {
			fmt.Printf("  issue: %s\n", issue)
		}
	}
	return nil
}

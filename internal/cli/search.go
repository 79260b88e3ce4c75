package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search records semantically",
	Long: `Search stored records with relevance boosting.

Examples:
  vectordb search "sqlite busy timeout"
  vectordb search "auth token refresh" --project invoice-chaser --limit 10
  vectordb search "flaky test" --mode validated_only --prefer-solutions`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var (
	searchLimit           int
	searchMode            string
	searchProject         string
	searchTopic           string
	searchPreferSolutions bool
	searchMinValidation   float64
	searchNoCache         bool
)

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", models.DefaultSearchLimit, "Maximum results to return")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", string(models.ModeSemantic), "Search mode: semantic, validated_only, failed_only, recent_only, by_topic")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "Project context for relevance boosting")
	searchCmd.Flags().StringVar(&searchTopic, "topic", "", "Topic focus (required for by_topic mode)")
	searchCmd.Flags().BoolVar(&searchPreferSolutions, "prefer-solutions", false, "Boost solution attempts")
	searchCmd.Flags().Float64Var(&searchMinValidation, "min-validation", 0, "Minimum validation strength (-1 to 1)")
	searchCmd.Flags().BoolVar(&searchNoCache, "no-cache", false, "Bypass the query cache")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	svc, err := getService()
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := models.SearchOptions{
		ProjectContext:        searchProject,
		Limit:                 searchLimit,
		Mode:                  models.SearchMode(searchMode),
		TopicFocus:            searchTopic,
		PreferSolutions:       searchPreferSolutions,
		MinValidationStrength: searchMinValidation,
		BypassCache:           searchNoCache,
	}

	results, err := svc.Search(cmd.Context(), query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	if verbose {
		printJSON(results)
		return nil
	}
	for i, sr := range results {
		fmt.Printf("%d. [%.3f] %s (%s)\n", i+1, sr.FinalScore, sr.Record.ID, sr.Record.ProjectName)
		fmt.Printf("   %s\n", snippet(sr.Record.Content, 120))
	}
	return nil
}

func snippet(content string, max int) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}

// Package cli implements the vectordb command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/config"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/memory"
)

var (
	// Global flags
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "vectordb",
		Short: "Semantic memory store for conversation records",
		Long: `vectordb ingests timestamped conversation records, stores them with
dense-vector embeddings and derived metadata, reconstructs
conversation chains, and serves relevance-ranked retrieval.

Use 'vectordb ingest' to load a transcript, then 'vectordb search'.`,
	}
)

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(statusCmd)
}

// getService opens the full engine from configuration.
func getService() (*memory.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel)
	provider := embedding.NewOllamaClient(cfg.OllamaBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
	return memory.Open(cfg, provider, logger)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

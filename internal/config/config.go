package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config enumerates every tunable of the engine. Values come from
// defaults, then an optional YAML file, then environment overrides.
// There are no hidden globals; the loaded Config is passed into
// constructors explicitly.
type Config struct {
	DBPath    string `yaml:"dbPath"`
	IndexPath string `yaml:"indexPath"`

	OllamaBaseURL  string `yaml:"ollamaBaseURL"`
	EmbeddingModel string `yaml:"embeddingModel"`
	EmbeddingDim   int    `yaml:"embeddingDim"`

	LogLevel string `yaml:"logLevel"`

	// MaxBatch caps records per index write call. Zero means "derive
	// from the SQLite bound-variable ceiling", which is the true hard
	// limit of the transactional backend.
	MaxBatch int `yaml:"maxBatch"`

	// Query cache
	CacheCapacity   int `yaml:"cacheCapacity"`
	CacheTTLSeconds int `yaml:"cacheTTLSeconds"`

	// Backfill
	BackfillWindow       int     `yaml:"backfillWindow"`
	BackfillConcurrency  int     `yaml:"backfillConcurrency"`
	BackfillBudgetMs     int     `yaml:"backfillBudgetMs"`
	FeedbackSimThreshold float64 `yaml:"feedbackSimThreshold"`

	// Source reading
	SourceRetryAttempts int `yaml:"sourceRetryAttempts"`
	SourceRetryBaseMs   int `yaml:"sourceRetryBaseMs"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		DBPath:               "data/records.db",
		IndexPath:            "data/index",
		OllamaBaseURL:        "http://localhost:11434",
		EmbeddingModel:       "nomic-embed-text",
		EmbeddingDim:         768,
		LogLevel:             "info",
		MaxBatch:             0,
		CacheCapacity:        1000,
		CacheTTLSeconds:      300,
		BackfillWindow:       5,
		BackfillConcurrency:  4,
		BackfillBudgetMs:     30000,
		FeedbackSimThreshold: 0.62,
		SourceRetryAttempts:  3,
		SourceRetryBaseMs:    100,
	}
}

// Load builds the configuration from defaults, the optional YAML file
// at path (empty path skips the file), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DBPath = envStr("VECTORDB_DB_PATH", c.DBPath)
	c.IndexPath = envStr("VECTORDB_INDEX_PATH", c.IndexPath)
	c.OllamaBaseURL = envStr("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.EmbeddingModel = envStr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDim = envInt("EMBEDDING_DIM", c.EmbeddingDim)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.MaxBatch = envInt("VECTORDB_MAX_BATCH", c.MaxBatch)
	c.CacheCapacity = envInt("VECTORDB_CACHE_CAPACITY", c.CacheCapacity)
	c.CacheTTLSeconds = envInt("VECTORDB_CACHE_TTL_SECONDS", c.CacheTTLSeconds)
	c.BackfillWindow = envInt("VECTORDB_BACKFILL_WINDOW", c.BackfillWindow)
	c.BackfillConcurrency = envInt("VECTORDB_BACKFILL_CONCURRENCY", c.BackfillConcurrency)
	c.BackfillBudgetMs = envInt("VECTORDB_BACKFILL_BUDGET_MS", c.BackfillBudgetMs)
	c.FeedbackSimThreshold = envFloat("VECTORDB_FEEDBACK_SIM_THRESHOLD", c.FeedbackSimThreshold)
	c.SourceRetryAttempts = envInt("VECTORDB_SOURCE_RETRY_ATTEMPTS", c.SourceRetryAttempts)
	c.SourceRetryBaseMs = envInt("VECTORDB_SOURCE_RETRY_BASE_MS", c.SourceRetryBaseMs)
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("dbPath must not be empty")
	}
	if c.IndexPath == "" {
		return fmt.Errorf("indexPath must not be empty")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("embeddingDim must be positive, got %d", c.EmbeddingDim)
	}
	if c.MaxBatch < 0 {
		return fmt.Errorf("maxBatch must not be negative, got %d", c.MaxBatch)
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cacheCapacity must be positive, got %d", c.CacheCapacity)
	}
	if c.CacheTTLSeconds < 1 {
		return fmt.Errorf("cacheTTLSeconds must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.BackfillWindow < 1 {
		return fmt.Errorf("backfillWindow must be positive, got %d", c.BackfillWindow)
	}
	if c.BackfillConcurrency < 1 {
		return fmt.Errorf("backfillConcurrency must be positive, got %d", c.BackfillConcurrency)
	}
	if c.FeedbackSimThreshold <= 0 || c.FeedbackSimThreshold >= 1 {
		return fmt.Errorf("feedbackSimThreshold must be in (0,1), got %f", c.FeedbackSimThreshold)
	}
	if c.SourceRetryAttempts < 1 {
		return fmt.Errorf("sourceRetryAttempts must be positive, got %d", c.SourceRetryAttempts)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

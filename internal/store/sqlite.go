package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// maxBoundVariables is SQLite's default SQLITE_MAX_VARIABLE_NUMBER.
// Multi-row inserts must stay under it, which is where the hard
// per-call batch ceiling comes from.
const maxBoundVariables = 999

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs
// schema initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS records (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  sequence_position INTEGER NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  content_hash TEXT NOT NULL UNIQUE,
  project_name TEXT,
  project_path TEXT,
  created_at TEXT NOT NULL,
  created_at_unix INTEGER NOT NULL,
  has_code INTEGER NOT NULL DEFAULT 0,
  tools_used TEXT,
  content_length INTEGER NOT NULL DEFAULT 0,
  detected_topics TEXT,
  primary_topic TEXT,
  topic_confidence REAL NOT NULL DEFAULT 0,
  solution_quality_score REAL NOT NULL DEFAULT 0,
  is_solution_attempt INTEGER NOT NULL DEFAULT 0,
  solution_category TEXT,
  has_success_markers INTEGER NOT NULL DEFAULT 0,
  previous_id TEXT,
  next_id TEXT,
  related_solution_id TEXT,
  feedback_message_id TEXT,
  feedback_sentiment TEXT,
  is_validated_solution INTEGER NOT NULL DEFAULT 0,
  is_refuted_attempt INTEGER NOT NULL DEFAULT 0,
  validation_strength REAL NOT NULL DEFAULT 0,
  outcome_certainty REAL NOT NULL DEFAULT 0,
  backfill_processed INTEGER NOT NULL DEFAULT 0,
  backfill_timestamp INTEGER,
  relationship_confidence REAL NOT NULL DEFAULT 0,
  embedding BLOB,
  embedding_model TEXT
);

CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id, sequence_position);
CREATE INDEX IF NOT EXISTS idx_records_content_hash ON records(content_hash);
CREATE INDEX IF NOT EXISTS idx_records_created_at_unix ON records(created_at_unix);
CREATE INDEX IF NOT EXISTS idx_records_project ON records(project_name);
CREATE INDEX IF NOT EXISTS idx_records_backfill ON records(backfill_processed);
CREATE INDEX IF NOT EXISTS idx_records_validated ON records(is_validated_solution);

CREATE TABLE IF NOT EXISTS projects (
  name TEXT PRIMARY KEY,
  path TEXT NOT NULL,
  tech_tags TEXT,
  record_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  last_ingested_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding_cache (
  content_hash TEXT PRIMARY KEY,
  embedding BLOB NOT NULL,
  dimension INTEGER NOT NULL,
  model TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// RecordCount returns the total number of records in the database.
func (db *DB) RecordCount() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count)
	return count, err
}

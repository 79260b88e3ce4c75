package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EmbeddingCacheEntry stores a cached embedding keyed by content hash.
type EmbeddingCacheEntry struct {
	ContentHash string
	Embedding   []byte
	Dimension   int
	Model       string
	UpdatedAt   int64
}

// EmbeddingCacheStore persists embeddings keyed by content hash so
// re-ingesting unchanged content never re-embeds it.
type EmbeddingCacheStore struct {
	db *DB
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db}
}

// Get fetches a cached embedding. Returns nil when not cached.
func (s *EmbeddingCacheStore) Get(contentHash string) (*EmbeddingCacheEntry, error) {
	var e EmbeddingCacheEntry
	err := s.db.QueryRow(`
		SELECT content_hash, embedding, dimension, model, updated_at
		FROM embedding_cache WHERE content_hash = ?`, contentHash).
		Scan(&e.ContentHash, &e.Embedding, &e.Dimension, &e.Model, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached embedding: %w", err)
	}
	return &e, nil
}

// Put stores or replaces a cached embedding.
func (s *EmbeddingCacheStore) Put(e *EmbeddingCacheEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO embedding_cache (content_hash, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at`,
		e.ContentHash, e.Embedding, e.Dimension, e.Model, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put cached embedding: %w", err)
	}
	return nil
}

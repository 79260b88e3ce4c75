package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
)

// CachedEmbedder wraps a Provider with two cache tiers keyed by content
// hash: an in-process ristretto cache for hot lookups and the SQLite
// embedding_cache table for reuse across restarts.
type CachedEmbedder struct {
	provider Provider
	hot      *ristretto.Cache
	disk     *store.EmbeddingCacheStore
	model    string
	logger   *slog.Logger
}

func NewCachedEmbedder(provider Provider, disk *store.EmbeddingCacheStore, model string, logger *slog.Logger) (*CachedEmbedder, error) {
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     64 << 20, // 64 MiB of vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &CachedEmbedder{
		provider: provider,
		hot:      hot,
		disk:     disk,
		model:    model,
		logger:   logger,
	}, nil
}

// Embed returns the embedding for text, consulting the hot cache, then
// the durable cache, then the underlying provider.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	if v, ok := e.hot.Get(hash); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	if e.disk != nil {
		entry, err := e.disk.Get(hash)
		if err != nil {
			return nil, fmt.Errorf("embedding cache lookup: %w", err)
		}
		if entry != nil {
			vec := store.BytesToFloat32(entry.Embedding)
			e.hot.Set(hash, vec, int64(len(vec)*4))
			return vec, nil
		}
	}

	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.hot.Set(hash, vec, int64(len(vec)*4))
	if e.disk != nil {
		entry := &store.EmbeddingCacheEntry{
			ContentHash: hash,
			Embedding:   store.Float32ToBytes(vec),
			Dimension:   len(vec),
			Model:       e.model,
		}
		if err := e.disk.Put(entry); err != nil {
			e.logger.Warn("embedding cache write failed", "error", err)
		}
	}

	return vec, nil
}

// Dimensions returns the underlying provider's embedding width.
func (e *CachedEmbedder) Dimensions() int {
	return e.provider.Dimensions()
}

// HealthCheck probes the underlying provider when it is backed by an
// external service. Providers without one are always healthy.
func (e *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.provider.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close releases the in-process cache.
func (e *CachedEmbedder) Close() {
	e.hot.Close()
}

package embedding_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding/mock"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
)

// countingProvider wraps the mock embedder and counts upstream calls.
type countingProvider struct {
	inner *mock.Embedder
	calls atomic.Int64
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	return p.inner.Embed(ctx, text)
}

func (p *countingProvider) Dimensions() int { return p.inner.Dimensions() }

func newCacheFixture(t *testing.T) (*embedding.CachedEmbedder, *countingProvider, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	provider := &countingProvider{inner: mock.New(16)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cached, err := embedding.NewCachedEmbedder(provider, store.NewEmbeddingCacheStore(db), "mock", logger)
	if err != nil {
		t.Fatalf("building cached embedder: %v", err)
	}
	t.Cleanup(cached.Close)
	return cached, provider, db
}

// unhealthyProvider reports a down backend.
type unhealthyProvider struct {
	*countingProvider
}

func (p *unhealthyProvider) HealthCheck(ctx context.Context) error {
	return errors.New("backend unreachable")
}

func TestCachedEmbedder_HealthCheck(t *testing.T) {
	ctx := context.Background()

	cached, _, db := newCacheFixture(t)
	if err := cached.HealthCheck(ctx); err != nil {
		t.Errorf("provider without a probe should report healthy, got %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	down, err := embedding.NewCachedEmbedder(
		&unhealthyProvider{&countingProvider{inner: mock.New(16)}},
		store.NewEmbeddingCacheStore(db), "mock", logger)
	if err != nil {
		t.Fatalf("building cached embedder: %v", err)
	}
	t.Cleanup(down.Close)
	if err := down.HealthCheck(ctx); err == nil {
		t.Error("expected the provider's failure to propagate")
	}
}

func TestCachedEmbedder_RepeatTextHitsCache(t *testing.T) {
	cached, provider, _ := newCacheFixture(t)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "the same text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := cached.Embed(ctx, "the same text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if provider.calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", provider.calls.Load())
	}
	if len(first) != len(second) {
		t.Fatalf("vector lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at component %d", i)
		}
	}
}

func TestCachedEmbedder_DiskTierSurvivesHotEviction(t *testing.T) {
	cached, provider, db := newCacheFixture(t)
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "persisted text"); err != nil {
		t.Fatalf("embed: %v", err)
	}

	// A second embedder over the same database has a cold hot tier but
	// shares the disk tier.
	provider2 := &countingProvider{inner: mock.New(16)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cached2, err := embedding.NewCachedEmbedder(provider2, store.NewEmbeddingCacheStore(db), "mock", logger)
	if err != nil {
		t.Fatalf("building second embedder: %v", err)
	}
	t.Cleanup(cached2.Close)

	if _, err := cached2.Embed(ctx, "persisted text"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if provider2.calls.Load() != 0 {
		t.Errorf("expected the disk tier to serve the repeat, upstream called %d times", provider2.calls.Load())
	}
	if provider.calls.Load() != 1 {
		t.Errorf("expected 1 upstream call on the first embedder, got %d", provider.calls.Load())
	}
}

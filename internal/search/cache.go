package search

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

// QueryCache memoizes search results under a bounded LRU with TTL
// expiry. A hit returns the previously computed results unchanged; it
// does not re-validate against intervening writes, so callers needing
// guaranteed freshness set SearchOptions.BypassCache.
type QueryCache struct {
	engine *Engine
	lru    *expirable.LRU[string, []models.ScoredRecord]

	hits   atomic.Uint64
	misses atomic.Uint64

	latencyMicros atomic.Int64
	latencyCount  atomic.Int64
}

func NewQueryCache(engine *Engine, capacity int, ttl time.Duration) *QueryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &QueryCache{
		engine: engine,
		lru:    expirable.NewLRU[string, []models.ScoredRecord](capacity, nil, ttl),
	}
}

// Search serves from the cache when possible, delegating to the
// relevance engine on miss or bypass.
func (c *QueryCache) Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.ScoredRecord, error) {
	key := cacheKey(query, opts)

	if !opts.BypassCache {
		if cached, ok := c.lru.Get(key); ok {
			c.hits.Add(1)
			return copyResults(cached), nil
		}
	}

	start := time.Now()
	results, err := c.engine.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	c.misses.Add(1)
	c.latencyMicros.Add(time.Since(start).Microseconds())
	c.latencyCount.Add(1)

	c.lru.Add(key, copyResults(results))
	return results, nil
}

// HitRate returns the fraction of lookups served from cache.
func (c *QueryCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// AvgLatencyMs returns the mean engine latency over cache misses.
func (c *QueryCache) AvgLatencyMs() float64 {
	count := c.latencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(c.latencyMicros.Load()) / float64(count) / 1000.0
}

// Purge empties the cache.
func (c *QueryCache) Purge() {
	c.lru.Purge()
}

// cacheKey normalizes the query (case and whitespace folded) and
// fingerprints every option that affects results. Free-text fields are
// quoted so a separator inside them cannot collide two option sets.
// BypassCache is deliberately excluded so a bypass refreshes the
// shared entry.
func cacheKey(query string, opts models.SearchOptions) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")

	var dateRange string
	if opts.DateRange != nil {
		dateRange = fmt.Sprintf("%d-%d", opts.DateRange.From, opts.DateRange.To)
	}
	return fmt.Sprintf("%q|%q|%d|%s|%q|%t|%g|%s",
		normalized, opts.ProjectContext, opts.Limit, opts.Mode,
		opts.TopicFocus, opts.PreferSolutions, opts.MinValidationStrength, dateRange)
}

// copyResults protects cached slices from caller mutation.
func copyResults(in []models.ScoredRecord) []models.ScoredRecord {
	out := make([]models.ScoredRecord, len(in))
	copy(out, in)
	return out
}

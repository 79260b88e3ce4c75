package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
)

const (
	// overfetchFactor is how many candidates beyond the requested
	// limit are pulled from the index before boosting re-ranks them.
	overfetchFactor = 3

	// sameProjectBoost applies when a result's project matches the
	// query's project context exactly.
	sameProjectBoost = 1.5

	// techOverlapBoost applies when two different projects share more
	// than techOverlapMin of their technology tags (Jaccard).
	techOverlapBoost = 1.2
	techOverlapMin   = 0.3

	// refutedFloor keeps refuted attempts visible rather than erasing
	// them; failures carry signal too.
	refutedFloor = 0.3

	preferSolutionsBoost = 1.2

	// recentWindow bounds ModeRecentOnly when no explicit date range
	// is given.
	recentWindow = 7 * 24 * time.Hour
)

// Engine ranks candidate records for a query beyond raw vector
// similarity, applying project, technology, quality, and validation
// boosts.
type Engine struct {
	store    *store.RecordStore
	embedder embedding.Provider
	logger   *slog.Logger
}

func NewEngine(rs *store.RecordStore, embedder embedding.Provider, logger *slog.Logger) *Engine {
	return &Engine{store: rs, embedder: embedder, logger: logger}
}

type candidate struct {
	record     *models.Record
	similarity float64
}

// Search embeds the query, over-fetches candidates under the mode's
// filter, boosts, and returns the top results. An empty query is
// rejected before any index access; zero candidates yield an empty
// list, not an error.
func (e *Engine) Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.ScoredRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.Errorf(models.KindInvalidArgument, "search", "query must not be empty")
	}
	if opts.Mode == models.ModeByTopic && opts.TopicFocus == "" {
		return nil, models.Errorf(models.KindInvalidArgument, "search", "mode %q requires a topic focus", opts.Mode)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, models.E(models.KindTransientAccess, "search", err)
	}

	var candidates []candidate
	if dateBounded(opts) {
		candidates, err = e.fetchByRange(vec, opts, limit*overfetchFactor)
	} else {
		candidates, err = e.fetchFromIndex(ctx, vec, opts, limit*overfetchFactor)
	}
	if err != nil {
		return nil, err
	}

	projectTags := e.projectTagLoader()
	scored := make([]models.ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		r := c.record
		if opts.MinValidationStrength != 0 && r.ValidationStrength < opts.MinValidationStrength {
			continue
		}

		base := clamp01((1 + c.similarity) / 2)
		boost := e.boostFactor(r, opts, projectTags)

		scored = append(scored, models.ScoredRecord{
			Record:        r,
			BaseRelevance: base,
			BoostFactor:   boost,
			FinalScore:    clamp01(base * boost),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		// Most recent first on ties.
		return scored[i].Record.CreatedAtUnix > scored[j].Record.CreatedAtUnix
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// boostFactor computes the multiplicative adjustment for one record.
// Without a project context the factor degrades to quality and
// validation terms only.
func (e *Engine) boostFactor(r *models.Record, opts models.SearchOptions, projectTags func(string) []string) float64 {
	boost := 1.0

	if opts.ProjectContext != "" && r.ProjectName != "" {
		if r.ProjectName == opts.ProjectContext {
			boost *= sameProjectBoost
		} else if jaccard(projectTags(opts.ProjectContext), projectTags(r.ProjectName)) > techOverlapMin {
			boost *= techOverlapBoost
		}
	}

	// No 1.0 floor: a low-quality record is genuinely demoted.
	boost *= r.SolutionQualityScore

	if r.IsValidatedSolution {
		boost *= 1 + r.ValidationStrength
	}
	if r.IsRefutedAttempt {
		penalty := 1 - abs(r.ValidationStrength)
		if penalty < refutedFloor {
			penalty = refutedFloor
		}
		boost *= penalty
	}

	if opts.PreferSolutions && r.IsSolutionAttempt {
		boost *= preferSolutionsBoost
	}

	return boost
}

// fetchFromIndex pulls candidates from the vector index with the
// mode-derived equality filter, then hydrates full records.
func (e *Engine) fetchFromIndex(ctx context.Context, vec []float32, opts models.SearchOptions, n int) ([]candidate, error) {
	hits, err := e.store.Index().Query(ctx, vec, n, whereForMode(opts))
	if err != nil {
		return nil, models.E(models.KindIndexUnavailable, "search", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	simByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		simByID[h.ID] = float64(h.Similarity)
	}

	records, err := e.store.Records().GetByIDs(ids)
	if err != nil {
		return nil, models.E(models.KindIndexUnavailable, "search", err)
	}

	candidates := make([]candidate, 0, len(records))
	for _, r := range records {
		candidates = append(candidates, candidate{record: r, similarity: simByID[r.ID]})
	}
	return candidates, nil
}

// fetchByRange applies the hard date pre-filter in SQL and ranks the
// bounded candidate set by brute-force cosine, so the over-fetch
// budget is never spent on out-of-range records.
func (e *Engine) fetchByRange(vec []float32, opts models.SearchOptions, n int) ([]candidate, error) {
	filter := store.RangeFilter{
		ValidatedOnly: opts.Mode == models.ModeValidatedOnly,
		RefutedOnly:   opts.Mode == models.ModeFailedOnly,
	}
	if opts.Mode == models.ModeByTopic {
		filter.PrimaryTopic = opts.TopicFocus
	}
	if opts.DateRange != nil {
		filter.FromUnix = opts.DateRange.From
		filter.ToUnix = opts.DateRange.To
	} else {
		filter.FromUnix = time.Now().Add(-recentWindow).Unix()
	}

	records, err := e.store.Records().ListRange(filter)
	if err != nil {
		return nil, models.E(models.KindIndexUnavailable, "search", err)
	}

	candidates := make([]candidate, 0, len(records))
	for _, r := range records {
		emb := store.BytesToFloat32(r.Embedding)
		if len(emb) == 0 {
			continue
		}
		candidates = append(candidates, candidate{
			record:     r,
			similarity: embedding.CosineSimilarity(vec, emb),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

func whereForMode(opts models.SearchOptions) map[string]string {
	switch opts.Mode {
	case models.ModeValidatedOnly:
		return map[string]string{"is_validated_solution": "true"}
	case models.ModeFailedOnly:
		return map[string]string{"is_refuted_attempt": "true"}
	case models.ModeByTopic:
		return map[string]string{"primary_topic": opts.TopicFocus}
	default:
		return nil
	}
}

// projectTagLoader memoizes project tag lookups for the duration of
// one search.
func (e *Engine) projectTagLoader() func(string) []string {
	cache := make(map[string][]string)
	return func(name string) []string {
		if tags, ok := cache[name]; ok {
			return tags
		}
		var tags []string
		p, err := e.store.Projects().Get(name)
		if err == nil && p != nil {
			tags = p.TechTags
		}
		cache[name] = tags
		return tags
	}
}

// jaccard returns |A ∩ B| / |A ∪ B| over two tag sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, v := range a {
		setA[v] = true
	}

	intersection := 0
	union := make(map[string]bool, len(a)+len(b))
	for k := range setA {
		union[k] = true
	}
	for _, v := range b {
		union[v] = true
		if setA[v] {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func dateBounded(opts models.SearchOptions) bool {
	return opts.DateRange != nil || opts.Mode == models.ModeRecentOnly
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

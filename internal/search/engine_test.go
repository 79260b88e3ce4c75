package search_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding/mock"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/search"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/vectorstore"
)

var testEmbedder = mock.New(16)

func newTestSearch(t *testing.T) (*store.RecordStore, *search.Engine) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	index, err := vectorstore.OpenInMemory(logger)
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	rs := store.NewRecordStore(db, index, 0, logger)
	return rs, search.NewEngine(rs, testEmbedder, logger)
}

// seedRecord stores a record whose embedding equals the query vector,
// so base relevance is identical across records and only the boost
// terms decide the ordering.
func seedRecord(t *testing.T, rs *store.RecordStore, queryVec []float32, content string, mutate func(*models.Record)) *models.Record {
	t.Helper()
	hash := embedding.ContentHash(content)
	now := time.Now()
	r := &models.Record{
		ID:                   store.RecordID(hash),
		Content:              content,
		ContentHash:          hash,
		Role:                 models.RoleAgent,
		SessionID:            "search-session",
		ProjectName:          "other-project",
		CreatedAt:            now.Format(time.RFC3339),
		CreatedAtUnix:        now.Unix(),
		ContentLength:        len(content),
		SolutionQualityScore: 0.5,
		Embedding:            store.Float32ToBytes(queryVec),
		EmbeddingModel:       "mock",
	}
	if mutate != nil {
		mutate(r)
	}
	if _, err := rs.BatchUpsert(context.Background(), []*models.Record{r}); err != nil {
		t.Fatalf("seeding record: %v", err)
	}
	return r
}

func queryVec(t *testing.T, query string) []float32 {
	t.Helper()
	vec, err := testEmbedder.Embed(context.Background(), query)
	if err != nil {
		t.Fatalf("embedding query: %v", err)
	}
	return vec
}

func TestSearch_RejectsEmptyQuery(t *testing.T) {
	_, engine := newTestSearch(t)
	if _, err := engine.Search(context.Background(), "   ", models.SearchOptions{}); !models.IsKind(err, models.KindInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestSearch_ByTopicRequiresFocus(t *testing.T) {
	_, engine := newTestSearch(t)
	_, err := engine.Search(context.Background(), "anything", models.SearchOptions{Mode: models.ModeByTopic})
	if !models.IsKind(err, models.KindInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestSearch_EmptyStoreYieldsNoResults(t *testing.T) {
	_, engine := newTestSearch(t)
	results, err := engine.Search(context.Background(), "sqlite locking", models.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearch_ProjectContextBoostsOrdering(t *testing.T) {
	rs, engine := newTestSearch(t)
	query := "database connection pooling"
	vec := queryVec(t, query)

	other := seedRecord(t, rs, vec, "pooling notes from elsewhere", nil)
	mine := seedRecord(t, rs, vec, "pooling notes from my project", func(r *models.Record) {
		r.ProjectName = "invoice-chaser"
	})

	results, err := engine.Search(context.Background(), query, models.SearchOptions{
		ProjectContext: "invoice-chaser",
		Limit:          5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Record.ID != mine.ID {
		t.Errorf("expected same-project record first, got %s", results[0].Record.ID)
	}
	if results[0].BoostFactor <= results[1].BoostFactor {
		t.Errorf("expected project boost to raise the factor: %f vs %f",
			results[0].BoostFactor, results[1].BoostFactor)
	}
	_ = other
}

func TestSearch_ValidationBoostAndPenalty(t *testing.T) {
	rs, engine := newTestSearch(t)
	query := "fix the flaky auth test"
	vec := queryVec(t, query)

	refuted := seedRecord(t, rs, vec, "attempt that was refuted", func(r *models.Record) {
		r.IsRefutedAttempt = true
		r.ValidationStrength = -0.85
	})
	plain := seedRecord(t, rs, vec, "plain answer with no validation", nil)
	validated := seedRecord(t, rs, vec, "attempt that was validated", func(r *models.Record) {
		r.IsValidatedSolution = true
		r.ValidationStrength = 0.9
	})

	results, err := engine.Search(context.Background(), query, models.SearchOptions{Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Record.ID != validated.ID {
		t.Errorf("expected validated record first, got %s", results[0].Record.ID)
	}
	if results[2].Record.ID != refuted.ID {
		t.Errorf("expected refuted record last, got %s", results[2].Record.ID)
	}
	_ = plain
}

func TestSearch_ValidatedOnlyModeFilters(t *testing.T) {
	rs, engine := newTestSearch(t)
	query := "migration rollback"
	vec := queryVec(t, query)

	seedRecord(t, rs, vec, "unvalidated migration note", nil)
	validated := seedRecord(t, rs, vec, "validated migration fix", func(r *models.Record) {
		r.IsValidatedSolution = true
		r.ValidationStrength = 0.8
	})

	results, err := engine.Search(context.Background(), query, models.SearchOptions{
		Mode:  models.ModeValidatedOnly,
		Limit: 5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Record.ID != validated.ID {
		t.Errorf("expected the validated record, got %s", results[0].Record.ID)
	}
}

func TestSearch_RecentOnlyExcludesOldRecords(t *testing.T) {
	rs, engine := newTestSearch(t)
	query := "recent work"
	vec := queryVec(t, query)

	seedRecord(t, rs, vec, "stale record from last month", func(r *models.Record) {
		old := time.Now().Add(-30 * 24 * time.Hour)
		r.CreatedAt = old.Format(time.RFC3339)
		r.CreatedAtUnix = old.Unix()
	})
	recent := seedRecord(t, rs, vec, "record from this morning", nil)

	results, err := engine.Search(context.Background(), query, models.SearchOptions{
		Mode:  models.ModeRecentOnly,
		Limit: 5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Record.ID != recent.ID {
		t.Errorf("expected the recent record, got %s", results[0].Record.ID)
	}
}

func TestSearch_LimitTruncates(t *testing.T) {
	rs, engine := newTestSearch(t)
	query := "many candidates"
	vec := queryVec(t, query)

	for _, content := range []string{"candidate a", "candidate b", "candidate c", "candidate d"} {
		seedRecord(t, rs, vec, content, nil)
	}

	results, err := engine.Search(context.Background(), query, models.SearchOptions{Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

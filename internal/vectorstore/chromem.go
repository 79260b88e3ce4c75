package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

const collectionName = "records"

// Index wraps chromem-go, a pure Go embedded vector database, as the
// semantic candidate index. Record metadata and documents live in
// SQLite; the index carries each record's embedding plus the equality-
// filterable metadata subset.
type Index struct {
	db     *chromem.DB
	col    *chromem.Collection
	logger *slog.Logger
}

// Open creates or opens a persistent index at path.
func Open(path string, logger *slog.Logger) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, models.E(models.KindIndexUnavailable, "vectorstore.Open", err)
	}
	return newIndex(db, logger)
}

// OpenInMemory creates a non-persistent index, used by tests.
func OpenInMemory(logger *slog.Logger) (*Index, error) {
	return newIndex(chromem.NewDB(), logger)
}

func newIndex(db *chromem.DB, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Embeddings are always supplied by the caller, so no embedding
	// function is configured. Distance is the default cosine.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, models.E(models.KindIndexUnavailable, "vectorstore.Open",
			fmt.Errorf("create collection: %w", err))
	}
	return &Index{db: db, col: col, logger: logger}, nil
}

// Doc is one index entry.
type Doc struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Result is one similarity hit.
type Result struct {
	ID         string
	Similarity float32
}

// Add writes a batch of documents to the index.
func (x *Index) Add(ctx context.Context, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	converted := make([]chromem.Document, len(docs))
	for i, d := range docs {
		converted[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: d.Embedding,
			Metadata:  d.Metadata,
		}
	}
	if err := x.col.AddDocuments(ctx, converted, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Upsert replaces documents that already exist and adds the rest.
// Used by backfill to refresh validation metadata after linking.
func (x *Index) Upsert(ctx context.Context, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	// Delete is a no-op for unknown IDs.
	if err := x.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete before upsert: %w", err)
	}
	return x.Add(ctx, docs)
}

// Query returns up to n similarity hits for the embedding, restricted
// by the equality filters in where. chromem rejects result counts
// larger than the (filtered) collection, so the limit is clamped and
// shrunk on demand.
func (x *Index) Query(ctx context.Context, embedding []float32, n int, where map[string]string) ([]Result, error) {
	total := x.col.Count()
	if total == 0 || n <= 0 {
		return nil, nil
	}
	if n > total {
		n = total
	}

	var raw []chromem.Result
	for limit := n; limit >= 1; limit-- {
		var err error
		raw, err = x.col.QueryEmbedding(ctx, embedding, limit, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			x.logger.Debug("shrinking index query limit", "limit", limit-1)
			continue
		}
		return nil, fmt.Errorf("query index: %w", err)
	}

	results := make([]Result, len(raw))
	for i, r := range raw {
		results[i] = Result{ID: r.ID, Similarity: r.Similarity}
	}
	return results, nil
}

// Count returns the number of indexed documents.
func (x *Index) Count() int {
	return x.col.Count()
}

// DocFromRecord builds the index entry for a record.
func DocFromRecord(r *models.Record, embedding []float32) Doc {
	return Doc{
		ID:        r.ID,
		Content:   r.Content,
		Embedding: embedding,
		Metadata: map[string]string{
			"session_id":            r.SessionID,
			"project_name":          r.ProjectName,
			"primary_topic":         r.PrimaryTopic,
			"role":                  string(r.Role),
			"has_code":              strconv.FormatBool(r.HasCode),
			"is_validated_solution": strconv.FormatBool(r.IsValidatedSolution),
			"is_refuted_attempt":    strconv.FormatBool(r.IsRefutedAttempt),
			"created_at_unix":       strconv.FormatInt(r.CreatedAtUnix, 10),
		},
	}
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

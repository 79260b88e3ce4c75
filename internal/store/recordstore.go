package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/vectorstore"
)

// RecordStore owns append, update, and dedup logic on top of the
// SQLite rows and the vector index. Callers never talk to either
// backend directly.
type RecordStore struct {
	records  *Records
	projects *Projects
	index    *vectorstore.Index
	maxBatch int
	logger   *slog.Logger
}

// NewRecordStore builds the store. maxBatch caps records per write
// call; zero or anything above the bound-variable ceiling falls back
// to DefaultMaxBatch.
func NewRecordStore(db *DB, index *vectorstore.Index, maxBatch int, logger *slog.Logger) *RecordStore {
	if maxBatch <= 0 || maxBatch > DefaultMaxBatch {
		maxBatch = DefaultMaxBatch
	}
	return &RecordStore{
		records:  NewRecords(db),
		projects: NewProjects(db),
		index:    index,
		maxBatch: maxBatch,
		logger:   logger,
	}
}

// MaxBatch returns the effective per-call write ceiling.
func (rs *RecordStore) MaxBatch() int { return rs.maxBatch }

// Records exposes the row-level store for read paths.
func (rs *RecordStore) Records() *Records { return rs.records }

// Projects exposes the project registry.
func (rs *RecordStore) Projects() *Projects { return rs.projects }

// Index exposes the vector index for the relevance engine.
func (rs *RecordStore) Index() *vectorstore.Index { return rs.index }

// RecordID derives the stable record identifier from a content hash.
// Identical content always maps to the same ID, which makes
// re-ingestion idempotent at the row level as well.
func RecordID(contentHash string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("record:"+contentHash)).String()
}

// BatchUpsert persists a batch of records. Duplicates, both within the
// batch and against stored data, are filtered up front with one bulk
// existence probe and counted as skips, never as failures. Oversized
// batches are recursively partitioned into chunks of at most MaxBatch
// records; each chunk's outcome is reported independently and a failed
// chunk does not abort the rest.
func (rs *RecordStore) BatchUpsert(ctx context.Context, records []*models.Record) (models.IngestStats, error) {
	stats := models.IngestStats{}
	if len(records) == 0 {
		return stats, nil
	}

	// Intra-batch dedup: keep the first occurrence of each hash.
	seen := make(map[string]bool, len(records))
	unique := make([]*models.Record, 0, len(records))
	hashes := make([]string, 0, len(records))
	for _, r := range records {
		if r.ContentHash == "" {
			stats.Failed++
			stats.Issues = append(stats.Issues, fmt.Sprintf("record %s has no content hash", r.ID))
			continue
		}
		if seen[r.ContentHash] {
			stats.SkippedDuplicate++
			continue
		}
		seen[r.ContentHash] = true
		unique = append(unique, r)
		hashes = append(hashes, r.ContentHash)
	}

	// One bulk probe against stored data, not N point lookups.
	existing, err := rs.records.ExistingHashes(hashes)
	if err != nil {
		return stats, models.E(models.KindIndexUnavailable, "store.BatchUpsert", err)
	}

	fresh := make([]*models.Record, 0, len(unique))
	for _, r := range unique {
		if existing[r.ContentHash] {
			stats.SkippedDuplicate++
			continue
		}
		fresh = append(fresh, r)
	}

	rs.writeChunked(ctx, fresh, &stats)

	rs.logger.Info("batch upsert complete",
		"written", stats.Written,
		"skipped_duplicate", stats.SkippedDuplicate,
		"failed", stats.Failed,
		"chunks", len(stats.Chunks),
	)
	return stats, nil
}

// writeChunked recursively partitions records until each piece fits
// under the batch ceiling, then issues sequential chunk writes.
func (rs *RecordStore) writeChunked(ctx context.Context, records []*models.Record, stats *models.IngestStats) {
	if len(records) == 0 {
		return
	}
	if len(records) > rs.maxBatch {
		mid := len(records) / 2
		rs.writeChunked(ctx, records[:mid], stats)
		rs.writeChunked(ctx, records[mid:], stats)
		return
	}

	outcome := models.ChunkOutcome{Index: len(stats.Chunks), Size: len(records)}

	written, err := rs.records.InsertChunk(records)
	if err != nil {
		outcome.Error = err.Error()
		stats.Failed += len(records)
		stats.Issues = append(stats.Issues, fmt.Sprintf("chunk %d: %v", outcome.Index, err))
		stats.Chunks = append(stats.Chunks, outcome)
		rs.logger.Warn("chunk write failed", "chunk", outcome.Index, "size", outcome.Size, "error", err)
		return
	}
	outcome.Written = written
	// Rows ignored by the insert lost a write race; they exist, which
	// is success, not failure.
	outcome.Skipped = len(records) - written
	stats.Written += written
	stats.SkippedDuplicate += outcome.Skipped

	docs := make([]vectorstore.Doc, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		docs = append(docs, vectorstore.DocFromRecord(r, BytesToFloat32(r.Embedding)))
	}
	if err := rs.index.Upsert(ctx, docs); err != nil {
		outcome.Error = err.Error()
		stats.Issues = append(stats.Issues, fmt.Sprintf("chunk %d index write: %v", outcome.Index, err))
		rs.logger.Warn("index write failed", "chunk", outcome.Index, "error", err)
	}

	stats.Chunks = append(stats.Chunks, outcome)
}

// Exists reports whether a record with this content hash is stored.
// Metadata-only: no document body is fetched.
func (rs *RecordStore) Exists(contentHash string) (bool, error) {
	return rs.records.HashExists(contentHash)
}

// Get fetches a record by ID. Returns nil when not found.
func (rs *RecordStore) Get(id string) (*models.Record, error) {
	return rs.records.GetByID(id)
}

// UpdateRelationships writes back backfill-owned fields and refreshes
// the record's index metadata so validation filters stay accurate.
func (rs *RecordStore) UpdateRelationships(ctx context.Context, r *models.Record) error {
	if err := rs.records.UpdateRelationships(r); err != nil {
		return err
	}
	if len(r.Embedding) > 0 {
		doc := vectorstore.DocFromRecord(r, BytesToFloat32(r.Embedding))
		if err := rs.index.Upsert(ctx, []vectorstore.Doc{doc}); err != nil {
			rs.logger.Warn("index metadata refresh failed", "id", r.ID, "error", err)
		}
	}
	return nil
}

// GetChain returns up to length records around the given record,
// walking previous/next pointers. The anchor sits in the middle when
// both sides have enough neighbors.
func (rs *RecordStore) GetChain(recordID string, length int) ([]*models.Record, error) {
	if length <= 0 {
		length = 10
	}
	anchor, err := rs.records.GetByID(recordID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, models.Errorf(models.KindInvalidArgument, "store.GetChain", "record not found: %s", recordID)
	}

	visited := map[string]bool{anchor.ID: true}

	// Walk backward up to half the window.
	var before []*models.Record
	cur := anchor
	for len(before) < (length-1)/2 && cur.PreviousID != "" && !visited[cur.PreviousID] {
		prev, err := rs.records.GetByID(cur.PreviousID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			break
		}
		visited[prev.ID] = true
		before = append([]*models.Record{prev}, before...)
		cur = prev
	}

	chain := append(before, anchor)

	// Walk forward until the window is full.
	cur = anchor
	for len(chain) < length && cur.NextID != "" && !visited[cur.NextID] {
		next, err := rs.records.GetByID(cur.NextID)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		visited[next.ID] = true
		chain = append(chain, next)
		cur = next
	}

	return chain, nil
}

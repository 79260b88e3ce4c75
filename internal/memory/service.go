package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/backfill"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/config"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/ingest"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/search"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/vectorstore"
)

// pendingProbeLimit bounds how many unprocessed sessions the status
// operation counts.
const pendingProbeLimit = 1000

// Service is the single entry point for all engine operations. It owns
// the record store, the vector index, the embedding cache, the backfill
// engine, and the query cache, and wires them together.
type Service struct {
	cfg      *config.Config
	db       *store.DB
	records  *store.RecordStore
	embedder *embedding.CachedEmbedder
	searcher *search.QueryCache
	chains   *backfill.Engine
	reader   *ingest.SourceReader
	logger   *slog.Logger
}

// Open builds a Service from configuration. The embedding provider is
// injected so tests can substitute a deterministic one.
func Open(cfg *config.Config, provider embedding.Provider, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening record db: %w", err)
	}
	index, err := vectorstore.Open(cfg.IndexPath, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	embedder, err := embedding.NewCachedEmbedder(provider, store.NewEmbeddingCacheStore(db), cfg.EmbeddingModel, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("building embedding cache: %w", err)
	}

	records := store.NewRecordStore(db, index, cfg.MaxBatch, logger)
	engine := search.NewEngine(records, embedder, logger)
	searcher := search.NewQueryCache(engine, cfg.CacheCapacity, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	chains := backfill.NewEngine(records, embedder,
		cfg.BackfillWindow, cfg.FeedbackSimThreshold,
		time.Duration(cfg.BackfillBudgetMs)*time.Millisecond, logger)
	reader := ingest.NewSourceReader(cfg.SourceRetryAttempts, time.Duration(cfg.SourceRetryBaseMs)*time.Millisecond)

	return &Service{
		cfg:      cfg,
		db:       db,
		records:  records,
		embedder: embedder,
		searcher: searcher,
		chains:   chains,
		reader:   reader,
		logger:   logger,
	}, nil
}

// NewService assembles a Service from already-constructed parts. Used
// by tests that want in-memory components.
func NewService(cfg *config.Config, db *store.DB, records *store.RecordStore, embedder *embedding.CachedEmbedder, searcher *search.QueryCache, chains *backfill.Engine, reader *ingest.SourceReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		db:       db,
		records:  records,
		embedder: embedder,
		searcher: searcher,
		chains:   chains,
		reader:   reader,
		logger:   logger,
	}
}

func (s *Service) Close() error {
	s.embedder.Close()
	return s.db.Close()
}

// Store exposes the underlying record store for administrative use.
func (s *Service) Store() *store.RecordStore { return s.records }

// Ingest enriches, embeds, and persists a batch of raw records.
// Records whose content already exists are skipped before the
// embedding step, so re-ingesting the same batch costs no embedding
// calls. One bad record never aborts the batch.
func (s *Service) Ingest(ctx context.Context, raws []models.RawRecord) (models.IngestStats, error) {
	var stats models.IngestStats
	if len(raws) == 0 {
		return stats, nil
	}

	enriched := make([]*models.Record, 0, len(raws))
	hashes := make([]string, 0, len(raws))
	for _, raw := range raws {
		if raw.Content == "" || raw.SessionID == "" {
			stats.Failed++
			stats.Issues = append(stats.Issues, "record missing content or session id")
			continue
		}
		r := ingest.Enrich(raw)
		enriched = append(enriched, r)
		hashes = append(hashes, r.ContentHash)
	}
	if len(enriched) == 0 {
		return stats, nil
	}

	existing, err := s.records.Records().ExistingHashes(hashes)
	if err != nil {
		return stats, fmt.Errorf("probing existing hashes: %w", err)
	}

	// Sequence positions continue each session's chain from where the
	// last ingestion left off.
	nextSeq := make(map[string]int)
	fresh := make([]*models.Record, 0, len(enriched))
	for _, r := range enriched {
		if existing[r.ContentHash] {
			stats.SkippedDuplicate++
			s.logger.Debug("duplicate ignored", "content_hash", r.ContentHash)
			continue
		}
		seq, ok := nextSeq[r.SessionID]
		if !ok {
			seq, err = s.records.Records().NextSequence(r.SessionID)
			if err != nil {
				return stats, fmt.Errorf("next sequence for session %s: %w", r.SessionID, err)
			}
		}
		r.SequencePosition = seq
		nextSeq[r.SessionID] = seq + 1
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return stats, nil
	}

	embedded := fresh[:0]
	for _, r := range fresh {
		vec, err := s.embedder.Embed(ctx, r.Content)
		if err != nil {
			stats.Failed++
			stats.Issues = append(stats.Issues, fmt.Sprintf("embedding %s: %v", r.ID, err))
			continue
		}
		r.Embedding = store.Float32ToBytes(vec)
		r.EmbeddingModel = s.cfg.EmbeddingModel
		embedded = append(embedded, r)
	}

	written, err := s.records.BatchUpsert(ctx, embedded)
	stats.Written += written.Written
	stats.SkippedDuplicate += written.SkippedDuplicate
	stats.Failed += written.Failed
	stats.Chunks = written.Chunks
	stats.Issues = append(stats.Issues, written.Issues...)
	if err != nil {
		return stats, err
	}

	s.updateProjects(embedded)
	return stats, nil
}

// IngestTranscript reads a JSONL transcript file and ingests its
// records.
func (s *Service) IngestTranscript(ctx context.Context, path string) (models.IngestStats, error) {
	raws, issues, err := s.reader.ReadTranscript(ctx, path)
	if err != nil {
		return models.IngestStats{Issues: issues}, err
	}
	stats, err := s.Ingest(ctx, raws)
	stats.Issues = append(issues, stats.Issues...)
	return stats, err
}

// updateProjects maintains the per-project registry: record counts and
// technology tags derived from detected topics.
func (s *Service) updateProjects(written []*models.Record) {
	type projectDelta struct {
		path  string
		tags  map[string]bool
		count int
	}
	deltas := make(map[string]*projectDelta)
	for _, r := range written {
		if r.ProjectName == "" {
			continue
		}
		d, ok := deltas[r.ProjectName]
		if !ok {
			d = &projectDelta{path: r.ProjectPath, tags: make(map[string]bool)}
			deltas[r.ProjectName] = d
		}
		d.count++
		for topic := range r.DetectedTopics {
			d.tags[topic] = true
		}
	}
	for name, d := range deltas {
		tags := make([]string, 0, len(d.tags))
		for tag := range d.tags {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		if err := s.records.Projects().Upsert(name, d.path, tags, d.count); err != nil {
			s.logger.Warn("project upsert failed", "project", name, "error", err)
		}
	}
}

// BackfillSession reconstructs chains for one session.
func (s *Service) BackfillSession(ctx context.Context, sessionID string) (models.BackfillStats, error) {
	return s.chains.BackfillSession(ctx, sessionID)
}

// BackfillPending backfills up to maxSessions unprocessed sessions
// through the configured worker pool.
func (s *Service) BackfillPending(ctx context.Context, maxSessions int) ([]models.BackfillStats, error) {
	return s.chains.BackfillPending(ctx, maxSessions, s.cfg.BackfillConcurrency)
}

// Search ranks records for a query, serving repeat queries from the
// TTL cache.
func (s *Service) Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.ScoredRecord, error) {
	return s.searcher.Search(ctx, query, opts)
}

// GetChain returns the adjacency chain around a record, up to length
// records.
func (s *Service) GetChain(recordID string, length int) ([]*models.Record, error) {
	return s.records.GetChain(recordID, length)
}

// Status reports record counts, chain coverage, and cache health.
func (s *Service) Status(ctx context.Context) (models.StatusReport, error) {
	var report models.StatusReport

	total, err := s.db.RecordCount()
	if err != nil {
		return report, fmt.Errorf("counting records: %w", err)
	}
	processed, err := s.records.Records().ProcessedCount()
	if err != nil {
		return report, fmt.Errorf("counting processed records: %w", err)
	}
	pending, err := s.records.Records().PendingSessions(pendingProbeLimit)
	if err != nil {
		return report, fmt.Errorf("listing pending sessions: %w", err)
	}

	report.RecordCount = total
	if total > 0 {
		report.ChainCoverage = float64(processed) / float64(total)
	}
	report.PendingSessions = len(pending)
	report.CacheHitRate = s.searcher.HitRate()
	report.AvgLatencyMs = s.searcher.AvgLatencyMs()

	report.EmbeddingOnline = true
	if err := s.embedder.HealthCheck(ctx); err != nil {
		s.logger.Warn("embedding backend unreachable", "error", err)
		report.EmbeddingOnline = false
	}
	return report, nil
}

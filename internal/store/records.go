package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

// recordColumns is the canonical column list for all SELECT queries.
// Order must match scanRecord.
const recordColumns = `id, session_id, sequence_position, role, content, content_hash,
	project_name, project_path, created_at, created_at_unix,
	has_code, tools_used, content_length,
	detected_topics, primary_topic, topic_confidence,
	solution_quality_score, is_solution_attempt, solution_category, has_success_markers,
	previous_id, next_id, related_solution_id, feedback_message_id,
	feedback_sentiment, is_validated_solution, is_refuted_attempt,
	validation_strength, outcome_certainty,
	backfill_processed, backfill_timestamp, relationship_confidence,
	embedding, embedding_model`

// recordInsertColumns is the number of bound variables one record
// consumes in a multi-row insert. Must match buildInsertArgs.
const recordInsertColumns = 34

// DefaultMaxBatch is the largest chunk a single write call can carry
// without exceeding SQLite's bound-variable ceiling.
const DefaultMaxBatch = maxBoundVariables / recordInsertColumns

// Records handles record row access on SQLite.
type Records struct {
	db *DB
}

func NewRecords(db *DB) *Records {
	return &Records{db: db}
}

// InsertChunk writes up to DefaultMaxBatch records in one statement.
// Rows whose id already exists are ignored, so re-inserting a
// duplicate is a no-op. Returns the number of rows actually written.
func (s *Records) InsertChunk(records []*models.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if len(records)*recordInsertColumns > maxBoundVariables {
		return 0, models.Errorf(models.KindCapacityExceeded, "store.InsertChunk",
			"chunk of %d records exceeds the %d bound-variable ceiling", len(records), maxBoundVariables)
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", recordInsertColumns), ",") + ")"
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*recordInsertColumns)
	for i, r := range records {
		placeholders[i] = placeholder
		args = append(args, buildInsertArgs(r)...)
	}

	query := fmt.Sprintf(`INSERT OR IGNORE INTO records (%s) VALUES %s`,
		recordColumns, strings.Join(placeholders, ","))

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func buildInsertArgs(r *models.Record) []any {
	toolsJSON, _ := json.Marshal(r.ToolsUsed)
	topicsJSON, _ := json.Marshal(r.DetectedTopics)

	return []any{
		r.ID, r.SessionID, r.SequencePosition, string(r.Role), r.Content, r.ContentHash,
		r.ProjectName, r.ProjectPath, r.CreatedAt, r.CreatedAtUnix,
		boolToInt(r.HasCode), string(toolsJSON), r.ContentLength,
		string(topicsJSON), r.PrimaryTopic, r.TopicConfidence,
		r.SolutionQualityScore, boolToInt(r.IsSolutionAttempt), r.SolutionCategory, boolToInt(r.HasSuccessMarkers),
		r.PreviousID, r.NextID, r.RelatedSolutionID, r.FeedbackMessageID,
		string(r.FeedbackSentiment), boolToInt(r.IsValidatedSolution), boolToInt(r.IsRefutedAttempt),
		r.ValidationStrength, r.OutcomeCertainty,
		boolToInt(r.BackfillProcessed), r.BackfillTimestamp, r.RelationshipConfidence,
		r.Embedding, r.EmbeddingModel,
	}
}

// GetByID fetches a single record by ID. Returns nil when not found.
func (s *Records) GetByID(id string) (*models.Record, error) {
	r, err := scanRecord(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM records WHERE id = ?`, recordColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetByIDs fetches records for the given IDs, chunking the IN clause
// under the bound-variable ceiling. Missing IDs are silently absent.
func (s *Records) GetByIDs(ids []string) ([]*models.Record, error) {
	var out []*models.Record
	for start := 0; start < len(ids); start += maxBoundVariables {
		end := start + maxBoundVariables
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM records WHERE id IN (%s)`,
			recordColumns, placeholders(len(chunk))), args...)
		if err != nil {
			return nil, fmt.Errorf("get by ids: %w", err)
		}
		batch, err := scanRecords(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// ExistingHashes reports which of the given content hashes are already
// stored, using one bulk probe per bound-variable chunk rather than N
// point lookups. Only the hash column is fetched.
func (s *Records) ExistingHashes(hashes []string) (map[string]bool, error) {
	found := make(map[string]bool, len(hashes))
	for start := 0; start < len(hashes); start += maxBoundVariables {
		end := start + maxBoundVariables
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[start:end]

		args := make([]any, len(chunk))
		for i, h := range chunk {
			args[i] = h
		}
		rows, err := s.db.Query(fmt.Sprintf(
			`SELECT content_hash FROM records WHERE content_hash IN (%s)`,
			placeholders(len(chunk))), args...)
		if err != nil {
			return nil, fmt.Errorf("probe hashes: %w", err)
		}
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, err
			}
			found[h] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// HashExists is the metadata-only point lookup used by callers that
// check one hash at a time.
func (s *Records) HashExists(hash string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM records WHERE content_hash = ?`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("hash exists: %w", err)
	}
	return true, nil
}

// ListSession returns every record of a session ordered by sequence
// position, created time, then insertion order.
func (s *Records) ListSession(sessionID string) ([]*models.Record, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s FROM records WHERE session_id = ? ORDER BY sequence_position, created_at_unix, rowid`,
		recordColumns), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// NextSequence returns the next free sequence position for a session.
func (s *Records) NextSequence(sessionID string) (int, error) {
	var next int
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(sequence_position) + 1, 0) FROM records WHERE session_id = ?`,
		sessionID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return next, nil
}

// PendingSessions returns session IDs that still contain unprocessed
// records, oldest sessions first.
func (s *Records) PendingSessions(limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT session_id FROM records
		GROUP BY session_id
		HAVING MIN(backfill_processed) = 0
		ORDER BY MIN(created_at_unix)
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// ProcessedCount returns how many records have been backfill-processed.
func (s *Records) ProcessedCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE backfill_processed = 1`).Scan(&count)
	return count, err
}

// UpdateRelationships writes back the backfill-owned fields of a
// record. All other fields are immutable after ingestion and are left
// untouched.
func (s *Records) UpdateRelationships(r *models.Record) error {
	res, err := s.db.Exec(`
		UPDATE records SET
			previous_id = ?, next_id = ?,
			related_solution_id = ?, feedback_message_id = ?,
			feedback_sentiment = ?, is_validated_solution = ?, is_refuted_attempt = ?,
			validation_strength = ?, outcome_certainty = ?,
			backfill_processed = ?, backfill_timestamp = ?, relationship_confidence = ?
		WHERE id = ?`,
		r.PreviousID, r.NextID,
		r.RelatedSolutionID, r.FeedbackMessageID,
		string(r.FeedbackSentiment), boolToInt(r.IsValidatedSolution), boolToInt(r.IsRefutedAttempt),
		r.ValidationStrength, r.OutcomeCertainty,
		boolToInt(r.BackfillProcessed), r.BackfillTimestamp, r.RelationshipConfidence,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update relationships: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("record not found: %s", r.ID)
	}
	return nil
}

// RangeFilter bounds the brute-force candidate scan used for
// date-restricted search modes.
type RangeFilter struct {
	FromUnix      int64
	ToUnix        int64
	ValidatedOnly bool
	RefutedOnly   bool
	PrimaryTopic  string
}

// ListRange returns records inside a time range with embeddings
// attached, applying any mode-derived equality filters in SQL so the
// over-fetch budget is not wasted on out-of-range candidates.
func (s *Records) ListRange(f RangeFilter) ([]*models.Record, error) {
	conditions := []string{"embedding IS NOT NULL"}
	var args []any

	if f.FromUnix > 0 {
		conditions = append(conditions, "created_at_unix >= ?")
		args = append(args, f.FromUnix)
	}
	if f.ToUnix > 0 {
		conditions = append(conditions, "created_at_unix <= ?")
		args = append(args, f.ToUnix)
	}
	if f.ValidatedOnly {
		conditions = append(conditions, "is_validated_solution = 1")
	}
	if f.RefutedOnly {
		conditions = append(conditions, "is_refuted_attempt = 1")
	}
	if f.PrimaryTopic != "" {
		conditions = append(conditions, "primary_topic = ?")
		args = append(args, f.PrimaryTopic)
	}

	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s FROM records WHERE %s ORDER BY created_at_unix DESC`,
		recordColumns, strings.Join(conditions, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("list range: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var r models.Record
	var role, sentiment, toolsJSON, topicsJSON string
	var hasCode, isSolution, hasSuccess, validated, refuted, processed int
	var backfillTS sql.NullInt64

	err := row.Scan(
		&r.ID, &r.SessionID, &r.SequencePosition, &role, &r.Content, &r.ContentHash,
		&r.ProjectName, &r.ProjectPath, &r.CreatedAt, &r.CreatedAtUnix,
		&hasCode, &toolsJSON, &r.ContentLength,
		&topicsJSON, &r.PrimaryTopic, &r.TopicConfidence,
		&r.SolutionQualityScore, &isSolution, &r.SolutionCategory, &hasSuccess,
		&r.PreviousID, &r.NextID, &r.RelatedSolutionID, &r.FeedbackMessageID,
		&sentiment, &validated, &refuted,
		&r.ValidationStrength, &r.OutcomeCertainty,
		&processed, &backfillTS, &r.RelationshipConfidence,
		&r.Embedding, &r.EmbeddingModel,
	)
	if err != nil {
		return nil, err
	}

	r.Role = models.Role(role)
	r.FeedbackSentiment = models.FeedbackSentiment(sentiment)
	r.HasCode = hasCode != 0
	r.IsSolutionAttempt = isSolution != 0
	r.HasSuccessMarkers = hasSuccess != 0
	r.IsValidatedSolution = validated != 0
	r.IsRefutedAttempt = refuted != 0
	r.BackfillProcessed = processed != 0
	if backfillTS.Valid {
		r.BackfillTimestamp = backfillTS.Int64
	}

	if toolsJSON != "" && toolsJSON != "null" {
		_ = json.Unmarshal([]byte(toolsJSON), &r.ToolsUsed)
	}
	if topicsJSON != "" && topicsJSON != "null" {
		_ = json.Unmarshal([]byte(topicsJSON), &r.DetectedTopics)
	}

	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	var out []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

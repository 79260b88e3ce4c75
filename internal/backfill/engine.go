package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
)

const (
	// DefaultWindow bounds how far ahead of a solution attempt the
	// linking pass scans for feedback.
	DefaultWindow = 5

	// adjacencyConfidence applies to previous/next pointers, which are
	// fully determined by sequence order.
	adjacencyConfidence = 1.0
)

// Engine reconstructs the relationship fields that require visibility
// into a full session: adjacency pointers and solution/feedback links.
// Sessions are independent units of work; one Engine may process many
// sessions concurrently.
type Engine struct {
	store   *store.RecordStore
	matcher *FeedbackMatcher
	window  int
	budget  time.Duration
	logger  *slog.Logger
}

func NewEngine(rs *store.RecordStore, embedder embedding.Provider, window int, similarityThreshold float64, budget time.Duration, logger *slog.Logger) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   rs,
		matcher: NewFeedbackMatcher(embedder, similarityThreshold),
		window:  window,
		budget:  budget,
		logger:  logger,
	}
}

// BackfillSession runs both linking passes over one session and writes
// the mutated records back. It is idempotent: re-running never lowers
// an already-written relationship confidence, and a malformed record is
// skipped with a warning rather than aborting the session.
func (e *Engine) BackfillSession(ctx context.Context, sessionID string) (models.BackfillStats, error) {
	start := time.Now()
	stats := models.BackfillStats{SessionID: sessionID}

	if sessionID == "" {
		return stats, models.Errorf(models.KindInvalidArgument, "backfill.BackfillSession", "session id must not be empty")
	}
	all, err := e.store.Records().ListSession(sessionID)
	if err != nil {
		return stats, fmt.Errorf("listing session %s: %w", sessionID, err)
	}
	if len(all) == 0 {
		return stats, models.Errorf(models.KindInvalidArgument, "backfill.BackfillSession", "unknown session: %s", sessionID)
	}

	records := make([]*models.Record, 0, len(all))
	for _, r := range all {
		if r.CreatedAtUnix <= 0 || r.SequencePosition < 0 {
			e.logger.Warn("skipping malformed record",
				"record_id", r.ID, "session_id", sessionID,
				"created_at_unix", r.CreatedAtUnix, "sequence_position", r.SequencePosition)
			stats.RecordsSkipped++
			stats.Issues = append(stats.Issues, fmt.Sprintf("skipped malformed record %s", r.ID))
			continue
		}
		records = append(records, r)
	}

	confidences := make(map[string]float64, len(records))

	// First pass: adjacency. Deterministic, so always written.
	for i, r := range records {
		if i > 0 {
			r.PreviousID = records[i-1].ID
			stats.LinksBuilt++
		} else {
			r.PreviousID = ""
		}
		if i < len(records)-1 {
			r.NextID = records[i+1].ID
		} else {
			r.NextID = ""
		}
		confidences[r.ID] = adjacencyConfidence
	}

	// Second pass: solution/feedback linking within the lookahead
	// window. A feedback record belongs to at most one solution, so
	// feedback claimed earlier in this pass, or already linked to a
	// different solution in storage, is skipped rather than re-claimed
	// by a later attempt. Matches below an already-recorded confidence
	// are dropped so repeated runs only ever raise link quality.
	claimed := make(map[string]bool)
	relinked := make(map[string]bool)
	for i, r := range records {
		if !r.IsSolutionAttempt {
			continue
		}
		for j := i + 1; j <= i+e.window && j < len(records); j++ {
			fb := records[j]
			if claimed[fb.ID] || (fb.FeedbackMessageID != "" && fb.FeedbackMessageID != r.ID) {
				continue
			}
			match, err := e.matcher.Match(ctx, fb)
			if err != nil {
				stats.Issues = append(stats.Issues, fmt.Sprintf("feedback match for %s: %v", fb.ID, err))
				break
			}
			if match == nil {
				continue
			}
			if e.applyFeedbackLink(r, fb, match, confidences) {
				claimed[fb.ID] = true
				relinked[r.ID] = true
				relinked[fb.ID] = true
				stats.LinksBuilt++
			}
			break
		}
	}

	now := time.Now()
	for _, r := range records {
		conf := confidences[r.ID]
		if r.BackfillProcessed {
			// A feedback link that survived this pass untouched keeps
			// contributing its stored confidence to the minimum, so a
			// re-run leaves the value where the original match put it.
			hasLink := r.RelatedSolutionID != "" || r.FeedbackMessageID != ""
			if hasLink && !relinked[r.ID] && r.RelationshipConfidence < conf {
				conf = r.RelationshipConfidence
			}
			if r.RelationshipConfidence > conf {
				conf = r.RelationshipConfidence
			}
		}
		r.BackfillProcessed = true
		r.BackfillTimestamp = now.Unix()
		r.RelationshipConfidence = conf

		if err := e.store.UpdateRelationships(ctx, r); err != nil {
			e.logger.Warn("relationship update failed", "record_id", r.ID, "error", err)
			stats.Issues = append(stats.Issues, fmt.Sprintf("update %s: %v", r.ID, err))
			continue
		}
		stats.RecordsUpdated++
	}

	stats.ElapsedMs = time.Since(start).Milliseconds()
	if e.budget > 0 && time.Since(start) > e.budget {
		e.logger.Warn("session exceeded backfill budget",
			"session_id", sessionID, "elapsed_ms", stats.ElapsedMs, "budget_ms", e.budget.Milliseconds())
	}
	e.logger.Info("session backfilled",
		"session_id", sessionID, "links", stats.LinksBuilt,
		"updated", stats.RecordsUpdated, "skipped", stats.RecordsSkipped,
		"elapsed_ms", stats.ElapsedMs)
	return stats, nil
}

// applyFeedbackLink writes the symmetric solution/feedback fields
// unless an existing link on either side already carries equal or
// higher confidence.
func (e *Engine) applyFeedbackLink(solution, feedback *models.Record, match *Match, confidences map[string]float64) bool {
	if solution.RelatedSolutionID != "" && solution.RelationshipConfidence >= match.Confidence {
		return false
	}
	if feedback.FeedbackMessageID != "" && feedback.RelationshipConfidence >= match.Confidence {
		return false
	}

	solution.RelatedSolutionID = feedback.ID
	solution.IsValidatedSolution = match.Sentiment == models.SentimentPositive
	solution.IsRefutedAttempt = match.Sentiment == models.SentimentNegative
	solution.ValidationStrength = match.Strength
	solution.OutcomeCertainty = match.Confidence

	feedback.FeedbackMessageID = solution.ID
	feedback.FeedbackSentiment = match.Sentiment

	if match.Confidence < confidences[solution.ID] {
		confidences[solution.ID] = match.Confidence
	}
	if match.Confidence < confidences[feedback.ID] {
		confidences[feedback.ID] = match.Confidence
	}
	return true
}

package backfill_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/backfill"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding/mock"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/vectorstore"
)

var testEmbedder = mock.New(16)

func newTestEngine(t *testing.T) (*store.DB, *store.RecordStore, *backfill.Engine) {
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
	return db, rs, backfill.NewEngine(rs, testEmbedder, 5, 0.62, time.Minute, logger)
}

type seedMsg struct {
	content    string
	role       models.Role
	isSolution bool
}

func seedSession(t *testing.T, rs *store.RecordStore, sessionID string, msgs []seedMsg) []*models.Record {
	t.Helper()
	records := make([]*models.Record, len(msgs))
	base := time.Now().Add(-time.Hour)
	for i, m := range msgs {
		vec, err := testEmbedder.Embed(context.Background(), m.content)
		if err != nil {
			t.Fatalf("embedding: %v", err)
		}
		hash := embedding.ContentHash(sessionID + ":" + m.content)
		created := base.Add(time.Duration(i) * time.Minute)
		records[i] = &models.Record{
			ID:                   store.RecordID(hash),
			Content:              m.content,
			ContentHash:          hash,
			Role:                 m.role,
			SessionID:            sessionID,
			SequencePosition:     i,
			CreatedAt:            created.Format(time.RFC3339),
			CreatedAtUnix:        created.Unix(),
			ContentLength:        len(m.content),
			SolutionQualityScore: 0.5,
			IsSolutionAttempt:    m.isSolution,
			Embedding:            store.Float32ToBytes(vec),
			EmbeddingModel:       "mock",
		}
	}
	if _, err := rs.BatchUpsert(context.Background(), records); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	return records
}

func TestBackfillSession_Adjacency(t *testing.T) {
	_, rs, engine := newTestEngine(t)
	ctx := context.Background()

	msgs := make([]seedMsg, 5)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAgent
		}
		msgs[i] = seedMsg{content: fmt.Sprintf("plain message number %d", i), role: role}
	}
	seedSession(t, rs, "adj-session", msgs)

	stats, err := engine.BackfillSession(ctx, "adj-session")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if stats.RecordsUpdated != 5 {
		t.Errorf("expected 5 records updated, got %d", stats.RecordsUpdated)
	}

	stored, err := rs.Records().ListSession("adj-session")
	if err != nil {
		t.Fatalf("listing session: %v", err)
	}
	if stored[0].PreviousID != "" {
		t.Error("first record must have no previous pointer")
	}
	if stored[len(stored)-1].NextID != "" {
		t.Error("last record must have no next pointer")
	}
	for i, r := range stored {
		if !r.BackfillProcessed {
			t.Errorf("record %d not marked processed", i)
		}
		if i > 0 && r.PreviousID != stored[i-1].ID {
			t.Errorf("record %d previous pointer broken", i)
		}
		if i < len(stored)-1 && r.NextID != stored[i+1].ID {
			t.Errorf("record %d next pointer broken", i)
		}
	}
}

func TestBackfillSession_LinksSolutionToFeedback(t *testing.T) {
	_, rs, engine := newTestEngine(t)
	ctx := context.Background()

	msgs := make([]seedMsg, 10)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAgent
		}
		msgs[i] = seedMsg{content: fmt.Sprintf("session one message %d", i), role: role}
	}
	msgs[2] = seedMsg{content: "try setting the busy timeout pragma", role: models.RoleAgent, isSolution: true}
	msgs[3] = seedMsg{content: "thanks, that worked", role: models.RoleUser}
	records := seedSession(t, rs, "S1", msgs)

	if _, err := engine.BackfillSession(ctx, "S1"); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	solution, err := rs.Get(records[2].ID)
	if err != nil {
		t.Fatalf("get solution: %v", err)
	}
	feedback, err := rs.Get(records[3].ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}

	if solution.RelatedSolutionID != feedback.ID {
		t.Errorf("solution not linked to feedback: %q", solution.RelatedSolutionID)
	}
	if feedback.FeedbackMessageID != solution.ID {
		t.Errorf("feedback not linked to solution: %q", feedback.FeedbackMessageID)
	}
	if feedback.FeedbackSentiment != models.SentimentPositive {
		t.Errorf("expected positive sentiment, got %q", feedback.FeedbackSentiment)
	}
	if !solution.IsValidatedSolution {
		t.Error("expected solution to be validated")
	}
	if solution.ValidationStrength <= 0 {
		t.Errorf("expected positive validation strength, got %f", solution.ValidationStrength)
	}
}

func TestBackfillSession_FeedbackBelongsToOneSolution(t *testing.T) {
	_, rs, _ := newTestEngine(t)
	ctx := context.Background()
	// High similarity threshold keeps the semantic fallback out of the
	// picture; only the lexical marker on the last message can match.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := backfill.NewEngine(rs, testEmbedder, 5, 0.95, time.Minute, logger)

	records := seedSession(t, rs, "two-solutions", []seedMsg{
		{content: "the migration keeps deadlocking", role: models.RoleUser},
		{content: "wrap the migration in a single transaction", role: models.RoleAgent, isSolution: true},
		{content: "also set the busy timeout pragma", role: models.RoleAgent, isSolution: true},
		{content: "thanks, that worked", role: models.RoleUser},
	})

	if _, err := engine.BackfillSession(ctx, "two-solutions"); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	first, err := rs.Get(records[1].ID)
	if err != nil {
		t.Fatalf("get first solution: %v", err)
	}
	second, err := rs.Get(records[2].ID)
	if err != nil {
		t.Fatalf("get second solution: %v", err)
	}
	feedback, err := rs.Get(records[3].ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}

	if first.RelatedSolutionID != feedback.ID {
		t.Errorf("first solution not linked to feedback: %q", first.RelatedSolutionID)
	}
	if feedback.FeedbackMessageID != first.ID {
		t.Errorf("feedback must point back at the solution that claimed it, got %q", feedback.FeedbackMessageID)
	}
	if second.RelatedSolutionID != "" {
		t.Errorf("second solution must not claim already-linked feedback, got %q", second.RelatedSolutionID)
	}
	if second.IsValidatedSolution {
		t.Error("second solution must not be validated by another solution's feedback")
	}
}

func TestBackfillSession_ConfidenceNeverDecreases(t *testing.T) {
	_, rs, engine := newTestEngine(t)
	ctx := context.Background()

	seedSession(t, rs, "rerun-session", []seedMsg{
		{content: "how do I fix the flaky migration", role: models.RoleUser},
		{content: "add a retry around the migration step", role: models.RoleAgent, isSolution: true},
		{content: "that worked, thank you", role: models.RoleUser},
	})

	if _, err := engine.BackfillSession(ctx, "rerun-session"); err != nil {
		t.Fatalf("first backfill: %v", err)
	}
	first, err := rs.Records().ListSession("rerun-session")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}

	if _, err := engine.BackfillSession(ctx, "rerun-session"); err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	second, err := rs.Records().ListSession("rerun-session")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}

	for i := range first {
		if second[i].RelationshipConfidence != first[i].RelationshipConfidence {
			t.Errorf("record %d confidence changed on re-run: %f -> %f",
				i, first[i].RelationshipConfidence, second[i].RelationshipConfidence)
		}
		if second[i].RelatedSolutionID != first[i].RelatedSolutionID {
			t.Errorf("record %d solution link changed on re-run", i)
		}
		if second[i].FeedbackMessageID != first[i].FeedbackMessageID {
			t.Errorf("record %d feedback link changed on re-run", i)
		}
	}
}

func TestBackfillSession_SkipsMalformedRecords(t *testing.T) {
	db, rs, engine := newTestEngine(t)
	ctx := context.Background()

	records := seedSession(t, rs, "bad-session", []seedMsg{
		{content: "message alpha", role: models.RoleUser},
		{content: "message bravo", role: models.RoleAgent},
		{content: "message charlie", role: models.RoleUser},
	})
	// Corrupt one record's timestamp directly, as a broken writer would.
	if _, err := db.Exec(`UPDATE records SET created_at_unix = 0 WHERE id = ?`, records[1].ID); err != nil {
		t.Fatalf("corrupting record: %v", err)
	}

	stats, err := engine.BackfillSession(ctx, "bad-session")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if stats.RecordsSkipped != 1 {
		t.Errorf("expected 1 record skipped, got %d", stats.RecordsSkipped)
	}
	if stats.RecordsUpdated != 2 {
		t.Errorf("expected 2 records updated, got %d", stats.RecordsUpdated)
	}
}

func TestBackfillSession_UnknownSession(t *testing.T) {
	_, _, engine := newTestEngine(t)
	_, err := engine.BackfillSession(context.Background(), "never-ingested")
	if !models.IsKind(err, models.KindInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestBackfillPending(t *testing.T) {
	_, rs, engine := newTestEngine(t)
	ctx := context.Background()

	for _, session := range []string{"pending-a", "pending-b"} {
		seedSession(t, rs, session, []seedMsg{
			{content: session + " question", role: models.RoleUser},
			{content: session + " answer", role: models.RoleAgent},
		})
	}

	all, err := engine.BackfillPending(ctx, 10, 2)
	if err != nil {
		t.Fatalf("backfill pending: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions processed, got %d", len(all))
	}

	remaining, err := rs.Records().PendingSessions(10)
	if err != nil {
		t.Fatalf("pending sessions: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no pending sessions, got %v", remaining)
	}
}

func TestFeedbackMatcher_LexicalMarkers(t *testing.T) {
	matcher := backfill.NewFeedbackMatcher(testEmbedder, 0.62)
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		sentiment models.FeedbackSentiment
	}{
		{"positive", "thanks, that worked great", models.SentimentPositive},
		{"negative", "nope, still failing with the same message", models.SentimentNegative},
		{"partial", "that almost worked, one case remains", models.SentimentPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := matcher.Match(ctx, &models.Record{Content: tt.content})
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if m == nil {
				t.Fatal("expected a match")
			}
			if m.Sentiment != tt.sentiment {
				t.Errorf("expected %q sentiment, got %q", tt.sentiment, m.Sentiment)
			}
			if m.Confidence != 0.9 {
				t.Errorf("expected lexical confidence 0.9, got %f", m.Confidence)
			}
		})
	}

	m, err := matcher.Match(ctx, &models.Record{Content: "what color should the button be"})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if m != nil {
		t.Errorf("unrelated text without embedding should not match, got %+v", m)
	}
}

package ingest

import (
	"testing"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

func TestEnrich_SolutionAttempt(t *testing.T) {
	raw := models.RawRecord{
		Content:   "The issue was the missing index. Try this:\n```sql\nCREATE INDEX idx_records_hash ON records(content_hash);\n```\nAll tests pass now.",
		Role:      models.RoleAgent,
		SessionID: "s1",
		Timestamp: "2026-08-30T10:00:00Z",
	}
	r := Enrich(raw)

	if !r.HasCode {
		t.Error("expected code detection")
	}
	if !r.IsSolutionAttempt {
		t.Error("expected solution attempt")
	}
	if r.SolutionCategory == "" {
		t.Error("expected a solution category")
	}
	if !r.HasSuccessMarkers {
		t.Error("expected success markers")
	}
	if r.SolutionQualityScore <= 0.5 {
		t.Errorf("expected quality above the baseline, got %f", r.SolutionQualityScore)
	}
	if r.ContentLength != len(raw.Content) {
		t.Errorf("content length mismatch: %d vs %d", r.ContentLength, len(raw.Content))
	}
	if r.CreatedAtUnix != time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC).Unix() {
		t.Errorf("unexpected created time %d", r.CreatedAtUnix)
	}
}

func TestEnrich_UserQuestionIsNotASolution(t *testing.T) {
	r := Enrich(models.RawRecord{
		Content:   "why does the login page hang after submit",
		Role:      models.RoleUser,
		SessionID: "s1",
	})
	if r.IsSolutionAttempt {
		t.Error("user message must not be a solution attempt")
	}
	if r.SolutionCategory != "" {
		t.Errorf("unexpected category %q", r.SolutionCategory)
	}
}

func TestEnrich_DeterministicIdentity(t *testing.T) {
	raw := models.RawRecord{Content: "identical content", Role: models.RoleUser, SessionID: "a"}
	first := Enrich(raw)
	raw.SessionID = "b"
	second := Enrich(raw)

	if first.ContentHash != second.ContentHash {
		t.Error("hash must depend on content only")
	}
	if first.ID != second.ID {
		t.Error("id must be derived from the content hash")
	}
}

func TestEnrich_TopicDetection(t *testing.T) {
	r := Enrich(models.RawRecord{
		Content:   "the sqlite query plan ignores the schema index after the migration",
		Role:      models.RoleUser,
		SessionID: "s1",
	})
	if r.PrimaryTopic != "database" {
		t.Errorf("expected database topic, got %q", r.PrimaryTopic)
	}
	if r.TopicConfidence <= 0 || r.TopicConfidence > 1 {
		t.Errorf("topic confidence out of range: %f", r.TopicConfidence)
	}
	if _, ok := r.DetectedTopics["database"]; !ok {
		t.Error("expected database in detected topics")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		valid bool
	}{
		{"rfc3339", "2026-08-30T10:00:00Z", true},
		{"rfc3339 nano", "2026-08-30T10:00:00.123456789Z", true},
		{"space separated", "2026-08-30 10:00:00", true},
		{"unix seconds", "1790000000", true},
		{"garbage", "yesterday-ish", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTimestamp(tt.in)
			if tt.valid && err != nil {
				t.Errorf("expected parse, got %v", err)
			}
			if !tt.valid && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

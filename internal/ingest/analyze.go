package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
)

// topicKeywords drives keyword-based topic detection. Confidence for a
// topic scales with the number of distinct keyword hits.
var topicKeywords = map[string][]string{
	"database":       {"database", "sql", "sqlite", "postgres", "query", "schema", "migration", "pooling"},
	"testing":        {"test", "assert", "mock", "coverage", "regression", "fixture"},
	"deployment":     {"deploy", "docker", "kubernetes", "pipeline", "release", "rollback"},
	"authentication": {"auth", "oauth", "token", "login", "jwt", "credential"},
	"performance":    {"performance", "latency", "slow", "optimize", "benchmark", "profiling"},
	"frontend":       {"react", "css", "html", "component", "render", "dom"},
	"networking":     {"http", "grpc", "socket", "request", "endpoint", "timeout"},
	"configuration":  {"config", "environment", "yaml", "settings", "flag", "env var"},
	"errors":         {"error", "panic", "exception", "stack trace", "crash", "traceback"},
}

var solutionMarkers = []string{
	"fixed", "the issue was", "the problem is", "try this", "solution",
	"you can", "change the", "update the", "instead of", "should be",
}

var successMarkers = []string{
	"✅", "successfully", "all tests pass", "works now", "working now",
	"passed", "resolved",
}

// Enrich converts a raw record into a full Record with every
// single-pass-derivable field populated. Relationship fields stay
// empty; only the backfill engine may set them.
func Enrich(raw models.RawRecord) *models.Record {
	content := raw.Content
	lower := strings.ToLower(content)
	hash := embedding.ContentHash(content)

	role := raw.Role
	if role != models.RoleAgent {
		role = models.RoleUser
	}

	createdAt, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		createdAt = time.Now().UTC()
	}

	topics, primary, topicConf := detectTopics(lower)
	hasCode := detectCode(content)
	hasSuccess := containsAny(lower, successMarkers)

	isSolution := role == models.RoleAgent && (hasCode || containsAny(lower, solutionMarkers))
	category := ""
	if isSolution {
		category = classifySolution(lower, hasCode)
	}

	return &models.Record{
		ID:          store.RecordID(hash),
		Content:     content,
		ContentHash: hash,
		Role:        role,

		SessionID:   raw.SessionID,
		ProjectName: raw.ProjectName,
		ProjectPath: raw.ProjectPath,

		CreatedAt:     createdAt.Format(time.RFC3339),
		CreatedAtUnix: createdAt.Unix(),

		HasCode:       hasCode,
		ToolsUsed:     raw.ToolsUsed,
		ContentLength: len(content),

		DetectedTopics:  topics,
		PrimaryTopic:    primary,
		TopicConfidence: topicConf,

		SolutionQualityScore: qualityScore(hasCode, hasSuccess, category, len(content)),
		IsSolutionAttempt:    isSolution,
		SolutionCategory:     category,
		HasSuccessMarkers:    hasSuccess,
	}
}

// ParseTimestamp accepts RFC3339 (with or without sub-second
// precision), a common space-separated form, and unix seconds.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, &time.ParseError{Layout: time.RFC3339, Value: ts}
}

func detectTopics(lower string) (map[string]float64, string, float64) {
	topics := make(map[string]float64)
	primary := ""
	best := 0.0

	for topic, keywords := range topicKeywords {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		conf := float64(hits) * 0.25
		if conf > 1 {
			conf = 1
		}
		topics[topic] = conf
		if conf > best || (conf == best && topic < primary) {
			best = conf
			primary = topic
		}
	}

	if len(topics) == 0 {
		return nil, "", 0
	}
	return topics, primary, best
}

func detectCode(content string) bool {
	if strings.Contains(content, "```") {
		return true
	}
	// Heuristics for inline code without fences.
	for _, marker := range []string{"func ", "def ", "import ", ":= ", "#!/", "// ", "{\n"} {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

func classifySolution(lower string, hasCode bool) string {
	switch {
	case strings.Contains(lower, "```bash") || strings.Contains(lower, "```sh") || strings.Contains(lower, "run "):
		return "command"
	case hasCode:
		return "code_fix"
	case strings.Contains(lower, "config") || strings.Contains(lower, "environment"):
		return "config_change"
	default:
		return "explanation"
	}
}

func qualityScore(hasCode, hasSuccess bool, category string, length int) float64 {
	score := 0.5
	if hasCode {
		score += 0.15
	}
	if hasSuccess {
		score += 0.2
	}
	if length > 300 {
		score += 0.1
	}
	if category == "code_fix" || category == "command" {
		score += 0.05
	}
	if score > 1 {
		score = 1
	}
	return score
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

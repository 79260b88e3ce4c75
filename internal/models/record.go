package models

// Role identifies which side of the conversation produced a record.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// FeedbackSentiment classifies a feedback message relative to a
// preceding solution attempt.
type FeedbackSentiment string

const (
	SentimentPositive FeedbackSentiment = "positive"
	SentimentNegative FeedbackSentiment = "negative"
	SentimentPartial  FeedbackSentiment = "partial"
	SentimentNeutral  FeedbackSentiment = "neutral"
)

// Record is one stored conversational turn with full metadata.
// Basic and single-pass-derivable fields are populated at ingestion;
// relationship fields stay empty until the backfill engine visits the
// owning session. A record is never deleted by the engine.
type Record struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	ContentHash string `json:"contentHash"`
	Role        Role   `json:"role"`

	SessionID        string `json:"sessionId"`
	SequencePosition int    `json:"sequencePosition"`
	ProjectName      string `json:"projectName"`
	ProjectPath      string `json:"projectPath"`

	// CreatedAt is the ISO-8601 form; CreatedAtUnix is retained for
	// range queries.
	CreatedAt     string `json:"createdAt"`
	CreatedAtUnix int64  `json:"createdAtUnix"`

	HasCode       bool     `json:"hasCode"`
	ToolsUsed     []string `json:"toolsUsed,omitempty"`
	ContentLength int      `json:"contentLength"`

	DetectedTopics  map[string]float64 `json:"detectedTopics,omitempty"`
	PrimaryTopic    string             `json:"primaryTopic,omitempty"`
	TopicConfidence float64            `json:"topicConfidence"`

	SolutionQualityScore float64 `json:"solutionQualityScore"`
	IsSolutionAttempt    bool    `json:"isSolutionAttempt"`
	SolutionCategory     string  `json:"solutionCategory,omitempty"`
	HasSuccessMarkers    bool    `json:"hasSuccessMarkers"`

	// Adjacency within the session. Backfill-only; together they form a
	// simple doubly linked list scoped to SessionID.
	PreviousID string `json:"previousId,omitempty"`
	NextID     string `json:"nextId,omitempty"`

	// Cross-reference links between solution attempts and feedback
	// messages. Backfill-only.
	RelatedSolutionID string `json:"relatedSolutionId,omitempty"`
	FeedbackMessageID string `json:"feedbackMessageId,omitempty"`

	FeedbackSentiment   FeedbackSentiment `json:"feedbackSentiment,omitempty"`
	IsValidatedSolution bool              `json:"isValidatedSolution"`
	IsRefutedAttempt    bool              `json:"isRefutedAttempt"`
	ValidationStrength  float64           `json:"validationStrength"`
	OutcomeCertainty    float64           `json:"outcomeCertainty"`

	BackfillProcessed      bool    `json:"backfillProcessed"`
	BackfillTimestamp      int64   `json:"backfillTimestamp,omitempty"`
	RelationshipConfidence float64 `json:"relationshipConfidence"`

	Embedding      []byte `json:"-"`
	EmbeddingModel string `json:"-"`
}

// RawRecord is the unprocessed input submitted by external collaborators
// (hooks, transcript readers). Ingestion derives the enhanced metadata
// and assigns IDs and sequence positions.
type RawRecord struct {
	Content     string   `json:"content"`
	Role        Role     `json:"role"`
	SessionID   string   `json:"sessionId"`
	ProjectName string   `json:"projectName,omitempty"`
	ProjectPath string   `json:"projectPath,omitempty"`
	Timestamp   string   `json:"timestamp"`
	ToolsUsed   []string `json:"toolsUsed,omitempty"`
}

// Project tracks a registered project and its accumulated technology
// tags, used by the relevance engine's cross-project boost.
type Project struct {
	Name           string   `json:"name"`
	Path           string   `json:"path"`
	TechTags       []string `json:"techTags,omitempty"`
	RecordCount    int      `json:"recordCount"`
	CreatedAt      int64    `json:"createdAt"`
	LastIngestedAt int64    `json:"lastIngestedAt"`
}

package models

// SearchMode selects the candidate filter applied before ranking.
type SearchMode string

const (
	ModeSemantic      SearchMode = "semantic"
	ModeValidatedOnly SearchMode = "validated_only"
	ModeFailedOnly    SearchMode = "failed_only"
	ModeRecentOnly    SearchMode = "recent_only"
	ModeByTopic       SearchMode = "by_topic"
)

// DateRange bounds a search to records created inside [From, To]
// (unix seconds). A zero To means "now".
type DateRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// SearchOptions controls a relevance search.
type SearchOptions struct {
	ProjectContext        string     `json:"projectContext,omitempty"`
	Limit                 int        `json:"limit,omitempty"`
	Mode                  SearchMode `json:"mode,omitempty"`
	TopicFocus            string     `json:"topicFocus,omitempty"`
	PreferSolutions       bool       `json:"preferSolutions,omitempty"`
	MinValidationStrength float64    `json:"minValidationStrength,omitempty"`
	DateRange             *DateRange `json:"dateRange,omitempty"`

	// BypassCache skips the query cache for callers that need
	// guaranteed freshness.
	BypassCache bool `json:"bypassCache,omitempty"`
}

// DefaultSearchLimit applies when SearchOptions.Limit is unset.
const DefaultSearchLimit = 5

// ScoredRecord is one ranked search result.
type ScoredRecord struct {
	Record        *Record `json:"record"`
	BaseRelevance float64 `json:"baseRelevance"`
	BoostFactor   float64 `json:"boostFactor"`
	FinalScore    float64 `json:"finalScore"`
}

// ChunkOutcome reports one MAX_BATCH-sized write unit independently.
type ChunkOutcome struct {
	Index   int    `json:"index"`
	Size    int    `json:"size"`
	Written int    `json:"written"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// IngestStats is the structured result of an ingestion call. Issues
// lists non-fatal problems so callers can distinguish "fully
// succeeded", "succeeded with skips", and "failed".
type IngestStats struct {
	Written          int            `json:"written"`
	SkippedDuplicate int            `json:"skippedDuplicate"`
	Failed           int            `json:"failed"`
	Chunks           []ChunkOutcome `json:"chunks,omitempty"`
	Issues           []string       `json:"issues,omitempty"`
}

// BackfillStats reports one session's chain reconstruction.
type BackfillStats struct {
	SessionID      string   `json:"sessionId"`
	LinksBuilt     int      `json:"linksBuilt"`
	RecordsUpdated int      `json:"recordsUpdated"`
	RecordsSkipped int      `json:"recordsSkipped"`
	ElapsedMs      int64    `json:"elapsedMs"`
	Issues         []string `json:"issues,omitempty"`
}

// StatusReport is the health/metrics snapshot returned by the status
// operation.
type StatusReport struct {
	RecordCount     int     `json:"recordCount"`
	ChainCoverage   float64 `json:"chainCoverage"`
	PendingSessions int     `json:"pendingSessions"`
	CacheHitRate    float64 `json:"cacheHitRate"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
	EmbeddingOnline bool    `json:"embeddingOnline"`
}

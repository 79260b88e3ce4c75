package backfill

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/embedding"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
	"github.com/isthatamullet/claude-vector-db-sub002/internal/store"
)

// Lexical marker banks. An exact substring hit is strong evidence, so
// it short-circuits the embedding comparison entirely.
var (
	positiveMarkers = []string{
		"that worked", "it works", "works now", "that fixed it",
		"fixed it", "that did it", "perfect, thanks", "solved it", "✅",
	}
	negativeMarkers = []string{
		"didn't work", "doesn't work", "did not work", "does not work",
		"still failing", "still broken", "same error", "not working",
		"no luck",
	}
	partialMarkers = []string{
		"partially worked", "almost worked", "better but", "closer but",
		"helped but", "some progress",
	}
)

// Canonical phrase banks for the semantic fallback. Each bank is
// embedded once per matcher lifetime.
var (
	positiveBank = []string{
		"thanks, that worked perfectly",
		"great, the fix solved the problem",
		"confirmed, everything passes now",
	}
	negativeBank = []string{
		"unfortunately that did not work, I still see the same error",
		"no, the problem is still happening after that change",
		"that made no difference, it is still broken",
	}
	partialBank = []string{
		"that helped a little but the issue is not fully resolved",
		"some improvement, though part of it still fails",
	}
)

const (
	lexicalConfidence = 0.9

	positiveStrength = 0.9
	negativeStrength = -0.85
	partialStrength  = 0.4
)

// Match describes how a record was recognized as feedback.
type Match struct {
	Sentiment  models.FeedbackSentiment
	Strength   float64
	Confidence float64
}

// FeedbackMatcher decides whether a record is feedback on an earlier
// solution attempt. Lexical markers are tried first; records without a
// marker fall through to cosine similarity against the phrase banks,
// reusing the record's stored embedding.
type FeedbackMatcher struct {
	embedder  embedding.Provider
	threshold float64

	mu    sync.Mutex
	banks map[models.FeedbackSentiment][][]float32
}

func NewFeedbackMatcher(embedder embedding.Provider, threshold float64) *FeedbackMatcher {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.62
	}
	return &FeedbackMatcher{embedder: embedder, threshold: threshold}
}

// Match returns nil when the record is not recognizable as feedback.
func (m *FeedbackMatcher) Match(ctx context.Context, r *models.Record) (*Match, error) {
	lower := strings.ToLower(r.Content)
	if hasMarker(lower, positiveMarkers) {
		return &Match{models.SentimentPositive, positiveStrength, lexicalConfidence}, nil
	}
	if hasMarker(lower, negativeMarkers) {
		return &Match{models.SentimentNegative, negativeStrength, lexicalConfidence}, nil
	}
	if hasMarker(lower, partialMarkers) {
		return &Match{models.SentimentPartial, partialStrength, lexicalConfidence}, nil
	}
	return m.semanticMatch(ctx, r)
}

func (m *FeedbackMatcher) semanticMatch(ctx context.Context, r *models.Record) (*Match, error) {
	if len(r.Embedding) == 0 {
		return nil, nil
	}
	if err := m.embedBanks(ctx); err != nil {
		return nil, err
	}

	vec := store.BytesToFloat32(r.Embedding)
	bestSim := 0.0
	var bestSentiment models.FeedbackSentiment
	for sentiment, bank := range m.banks {
		for _, phrase := range bank {
			if sim := embedding.CosineSimilarity(vec, phrase); sim > bestSim {
				bestSim = sim
				bestSentiment = sentiment
			}
		}
	}
	if bestSim < m.threshold {
		return nil, nil
	}

	// Scale confidence linearly from the threshold up, capped below
	// the lexical tier so exact markers always win on re-runs.
	confidence := 0.5 + (bestSim-m.threshold)/(1-m.threshold)*0.45
	if confidence > 0.95 {
		confidence = 0.95
	}

	strength := 0.0
	switch bestSentiment {
	case models.SentimentPositive:
		strength = bestSim
	case models.SentimentNegative:
		strength = -bestSim
	case models.SentimentPartial:
		strength = partialStrength
	}
	return &Match{bestSentiment, strength, confidence}, nil
}

func (m *FeedbackMatcher) embedBanks(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.banks != nil {
		return nil
	}

	banks := map[models.FeedbackSentiment][]string{
		models.SentimentPositive: positiveBank,
		models.SentimentNegative: negativeBank,
		models.SentimentPartial:  partialBank,
	}
	embedded := make(map[models.FeedbackSentiment][][]float32, len(banks))
	for sentiment, phrases := range banks {
		for _, phrase := range phrases {
			vec, err := m.embedder.Embed(ctx, phrase)
			if err != nil {
				return fmt.Errorf("embedding phrase bank: %w", err)
			}
			embedded[sentiment] = append(embedded[sentiment], vec)
		}
	}
	m.banks = embedded
	return nil
}

func hasMarker(lower string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// Provider converts text to a fixed-width embedding vector. The engine
// treats embedding generation as an injected capability; implementations
// include the Ollama client and a deterministic mock for tests.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HealthChecker is implemented by providers backed by an external
// service that can be probed for reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ContentHash computes the SHA-256 digest of text. It is a pure
// function of content: two records sharing a hash are duplicates.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

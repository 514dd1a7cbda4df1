// Package embed generates vector embeddings for document chunks and
// queries. The primary provider is the local embedding sidecar
// reached over HTTP; a deterministic hash-based provider serves as
// the fully offline fallback.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultDimensions is the embedding dimension of the default
	// sentence-transformer model (all-MiniLM-L6-v2).
	DefaultDimensions = 384

	// DefaultBatchSize is how many texts go into one service request.
	DefaultBatchSize = 32

	// MaxBatchSize bounds a single request so a misbehaving caller
	// cannot exhaust the sidecar's memory.
	MaxBatchSize = 256

	// DefaultRequestTimeout bounds one embedding request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxRetries is the retry count for transient service
	// failures, not counting the initial attempt.
	DefaultMaxRetries = 2
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result
	// always has exactly one vector per input text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales a vector to unit length. Zero vectors come
// back unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

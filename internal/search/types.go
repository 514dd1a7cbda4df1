// Package search implements the hybrid retriever: vector and keyword
// ranking run side by side and their results are fused with Reciprocal
// Rank Fusion (RRF).
package search

import (
	"context"

	"github.com/pmbstyle/alicerag/internal/store"
)

const (
	// DefaultTopK is used when a request does not set TopK.
	DefaultTopK = 10

	// MaxCandidates caps the candidate breadth requested from each
	// sub-ranker regardless of TopK.
	MaxCandidates = 40

	// rrfK is the RRF smoothing constant. k=60 is the standard choice
	// across search systems.
	rrfK = 60
)

// Request is one retrieval query. Vector and Text are each optional,
// but at least one must be usable or the search returns no results.
type Request struct {
	// Vector is the query embedding. It participates only when its
	// length matches the vector index dimension.
	Vector []float32

	// Text is the query text for keyword ranking.
	Text string

	// TopK is the number of results to return. Zero means DefaultTopK.
	TopK int

	// KeywordOnly skips query embedding, so only the keyword ranker
	// runs even when an embedder is available.
	KeywordOnly bool
}

// Result is one retrieved chunk with its document metadata.
type Result struct {
	ChunkID int64
	Text    string
	Path    string
	Title   string
	Page    int
	Section string

	// Score is a positional decay in (0, 1], not the fusion score:
	// 1 - position/topK with a 0-based position.
	Score float64
}

// VectorSearcher is the nearest-neighbor side of the retriever.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorMatch, error)
	Count() int
	Dimensions() int
}

// KeywordSearcher is the lexical side of the retriever.
type KeywordSearcher interface {
	Search(ctx context.Context, queryText string, topK int) ([]*store.KeywordMatch, error)
}

// ChunkResolver joins fused chunk ids back to their metadata.
type ChunkResolver interface {
	GetChunksByIDs(ctx context.Context, ids []int64) ([]*store.ChunkDetail, error)
}

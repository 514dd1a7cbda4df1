// Package store provides the persistence layer for indexed documents:
// a SQLite metadata store with an FTS5 keyword index, an HNSW vector
// index with on-disk persistence and staleness detection, and the
// keyword backend factory. The relational store is the single source
// of truth; the vector index is a rebuildable materialized view.
package store

import (
	"context"
	"fmt"
	"time"
)

// Document is a tracked file in the index. Exactly one Document exists
// per distinct absolute path.
type Document struct {
	ID        int64
	Path      string // absolute, unique key
	FileHash  string // sha256 of content
	MTime     int64  // unix seconds
	Size      int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a bounded span of a document's text, the atomic unit of
// embedding and retrieval. On re-index all chunks of a document are
// replaced as a whole, never patched individually.
type Chunk struct {
	ID         int64
	DocID      int64
	ChunkIndex int // 0-based position within the document
	Text       string
	Embedding  []float32
	TokenCount int
	Page       int    // 1-based page number, 0 when absent
	Section    string // heading, empty when absent
	CreatedAt  time.Time
}

// ChunkDetail is a chunk joined with its owning document, as returned
// to searchers.
type ChunkDetail struct {
	ChunkID    int64
	DocID      int64
	Text       string
	Path       string
	Title      string
	Page       int
	Section    string
	ChunkIndex int
}

// ChunkVector carries the fields needed to rebuild the vector index.
type ChunkVector struct {
	ID        int64
	Embedding []float32
	CreatedAt int64 // unix nanoseconds, as persisted
}

// KeywordMatch is one keyword search hit with its 1-based rank.
type KeywordMatch struct {
	ChunkID int64
	Rank    int
}

// VectorMatch is one nearest-neighbor hit resolved to a chunk id.
type VectorMatch struct {
	ChunkID  int64
	Distance float32 // cosine distance, 0-2
	Score    float32 // normalized similarity, 0-1
}

// HealthState tracks corruption recovery. A store that has already
// reset itself once in this session will not reset again, so a
// persistent underlying fault cannot cause repeated destructive
// deletes.
type HealthState int

const (
	// Healthy means no corruption has been observed this session.
	Healthy HealthState = iota
	// RecoveredThisSession means the store was reset once after a
	// corruption signal. Further corruption is logged, not reset.
	RecoveredThisSession
)

func (h HealthState) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case RecoveredThisSession:
		return "recovered"
	default:
		return "unknown"
	}
}

// State keys for the store_state key-value table.
const (
	// StateKeyEmbeddingModel records the model that produced the
	// stored embeddings.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyEmbeddingDim records the embedding dimension of the
	// stored embeddings.
	StateKeyEmbeddingDim = "embedding_dimensions"
)

// MetadataStore persists Documents and Chunks with transactional
// guarantees and serves the FTS keyword queries.
type MetadataStore interface {
	// UpsertDocument inserts or updates the document row and replaces
	// all of its chunks in one transaction. Returns the document id
	// and backfills doc.ID and each chunk's ID with the assigned row
	// ids. Zero chunks is valid: the document is recorded as seen
	// with nothing indexable.
	UpsertDocument(ctx context.Context, doc *Document, chunks []*Chunk) (int64, error)

	// RemoveDocuments deletes chunks then document for each id,
	// transactionally per id. Returns how many documents existed.
	RemoveDocuments(ctx context.Context, ids []int64) (int, error)

	// GetDocumentByPath returns the document for an absolute path, or
	// (nil, nil) when the path is not indexed.
	GetDocumentByPath(ctx context.Context, path string) (*Document, error)

	// ChunkIDsByDoc returns the ids of one document's chunks in
	// chunk_index order. Callers use this to evict a document's old
	// entries from secondary indices before replacing it.
	ChunkIDsByDoc(ctx context.Context, docID int64) ([]int64, error)

	// ListDocuments returns all documents ordered by path.
	ListDocuments(ctx context.Context) ([]*Document, error)

	// QueryKeyword runs the lexical query and returns chunk ids
	// ranked best first with 1-based ranks.
	QueryKeyword(ctx context.Context, text string, topK int) ([]*KeywordMatch, error)

	// GetChunksByIDs joins chunks with documents, preserving the
	// input id order and silently dropping ids that no longer exist.
	GetChunksByIDs(ctx context.Context, ids []int64) ([]*ChunkDetail, error)

	// ChunkStats returns the chunk count and max created_at, the
	// inputs to the vector index fingerprint.
	ChunkStats(ctx context.Context) (count int, maxCreatedAt int64, err error)

	// ChunkIDsOrdered returns all chunk ids in ascending order.
	ChunkIDsOrdered(ctx context.Context) ([]int64, error)

	// ChunksOrderedByID returns id, embedding, and created_at for all
	// chunks in ascending id order, for vector index rebuilds.
	ChunksOrderedByID(ctx context.Context) ([]*ChunkVector, error)

	// Stats returns document and chunk counts.
	Stats(ctx context.Context) (documents, chunks int, err error)

	// ClearAll removes every document and chunk in one transaction.
	ClearAll(ctx context.Context) error

	// State operations (key-value store for embedder identity etc.)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Health reports whether a corruption reset happened this session.
	Health() HealthState

	Close() error
}

// KeywordIndex abstracts the keyword retrieval backend. The SQLite
// backend is served directly by the metadata store's FTS5 table and
// keeps itself consistent via triggers, so its mutation methods are
// no-ops. The Bleve backend maintains a separate index directory and
// must be fed by the sync engine.
type KeywordIndex interface {
	// IndexChunks adds or replaces chunk texts in the index.
	IndexChunks(ctx context.Context, chunks []*Chunk) error

	// DeleteChunks removes chunks by id.
	DeleteChunks(ctx context.Context, chunkIDs []int64) error

	// Search returns chunk ids ranked best first with 1-based ranks.
	Search(ctx context.Context, queryText string, topK int) ([]*KeywordMatch, error)

	// Clear removes everything from the index.
	Clear(ctx context.Context) error

	Close() error
}

// Fingerprint summarizes the chunk table state the persisted vector
// index was built from. A mismatch against the live store means the
// index is stale and must be rebuilt.
type Fingerprint struct {
	Version      int
	Dimensions   int
	Count        int
	MaxCreatedAt int64 // unix nanoseconds
}

// VectorIndexConfig configures the HNSW vector index.
type VectorIndexConfig struct {
	// Dimensions is the embedding dimension (384 for MiniLM).
	Dimensions int

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible defaults for the vector index.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   32,
	}
}

// ErrDimensionMismatch indicates a vector with the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'alicerag clear' and reindex)", e.Expected, e.Got)
}

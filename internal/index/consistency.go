package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pmbstyle/alicerag/internal/store"
)

// IssueKind categorizes detected cross-store issues.
type IssueKind int

const (
	// IssueCountMismatch means the vector index holds a different
	// number of vectors than the store holds chunks.
	IssueCountMismatch IssueKind = iota
	// IssueStaleFingerprint means the vector index was built from an
	// older chunk table state.
	IssueStaleFingerprint
	// IssueMissingEmbedding means a chunk has no stored embedding.
	IssueMissingEmbedding
	// IssueDimensionMismatch means a chunk embedding has the wrong
	// dimension for the vector index.
	IssueDimensionMismatch
	// IssueVanishedFile means an indexed document's file is gone from
	// disk or is no longer a regular file.
	IssueVanishedFile
)

// String returns the snake_case name of the issue kind.
func (k IssueKind) String() string {
	switch k {
	case IssueCountMismatch:
		return "count_mismatch"
	case IssueStaleFingerprint:
		return "stale_fingerprint"
	case IssueMissingEmbedding:
		return "missing_embedding"
	case IssueDimensionMismatch:
		return "dimension_mismatch"
	case IssueVanishedFile:
		return "vanished_file"
	default:
		return "unknown"
	}
}

// Issue is one detected inconsistency.
type Issue struct {
	Kind    IssueKind
	ChunkID int64  // set for chunk-scoped issues
	Path    string // set for vanished files
	Detail  string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	// Documents and Chunks are the store counts at check time.
	Documents int
	Chunks    int

	// Issues contains every detected inconsistency.
	Issues []Issue

	// Duration is how long the check took.
	Duration time.Duration
}

// Healthy reports whether the check found nothing wrong.
func (r *CheckResult) Healthy() bool {
	return len(r.Issues) == 0
}

// Checker validates agreement between the metadata store, the vector
// index, and the filesystem. The store is the source of truth, so
// index-side divergence is repairable by rebuild; store-side problems
// (missing embeddings) need a re-index of the affected documents.
type Checker struct {
	meta    store.MetadataStore
	vectors *store.VectorIndex
	keyword store.KeywordIndex
}

// NewChecker creates a consistency checker.
func NewChecker(meta store.MetadataStore, vectors *store.VectorIndex, keyword store.KeywordIndex) *Checker {
	return &Checker{meta: meta, vectors: vectors, keyword: keyword}
}

// Check scans for inconsistencies. Cost is O(chunks + documents).
func (c *Checker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Issue

	documents, chunks, err := c.meta.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if live := c.vectors.Count(); live != chunks {
		issues = append(issues, Issue{
			Kind:   IssueCountMismatch,
			Detail: fmt.Sprintf("vector index holds %d vectors for %d chunks", live, chunks),
		})
	}

	count, maxCreated, err := c.meta.ChunkStats(ctx)
	if err != nil {
		return nil, err
	}
	fp := c.vectors.Fingerprint()
	if fp.Count != count || fp.MaxCreatedAt != maxCreated {
		issues = append(issues, Issue{
			Kind: IssueStaleFingerprint,
			Detail: fmt.Sprintf("index fingerprint {count:%d, max_created:%d} vs store {count:%d, max_created:%d}",
				fp.Count, fp.MaxCreatedAt, count, maxCreated),
		})
	}

	dims := c.vectors.Dimensions()
	vectors, err := c.meta.ChunksOrderedByID(ctx)
	if err != nil {
		return nil, err
	}
	for _, cv := range vectors {
		switch {
		case len(cv.Embedding) == 0:
			issues = append(issues, Issue{
				Kind:    IssueMissingEmbedding,
				ChunkID: cv.ID,
				Detail:  "chunk has no stored embedding",
			})
		case len(cv.Embedding) != dims:
			issues = append(issues, Issue{
				Kind:    IssueDimensionMismatch,
				ChunkID: cv.ID,
				Detail:  fmt.Sprintf("embedding has %d dimensions, index expects %d", len(cv.Embedding), dims),
			})
		}
	}

	docs, err := c.meta.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		info, statErr := os.Stat(doc.Path)
		if statErr == nil && info.Mode().IsRegular() {
			continue
		}
		issues = append(issues, Issue{
			Kind:   IssueVanishedFile,
			Path:   doc.Path,
			Detail: "indexed file is gone from disk",
		})
	}

	return &CheckResult{
		Documents: documents,
		Chunks:    chunks,
		Issues:    issues,
		Duration:  time.Since(start),
	}, nil
}

// Repair fixes what can be fixed from the store alone: vanished
// documents are removed, and index-side divergence is resolved by a
// rebuild. Missing or mis-sized embeddings are logged; they need a
// clear-and-reindex to regenerate.
func (c *Checker) Repair(ctx context.Context, issues []Issue) error {
	var vanished []string
	var rebuild bool
	var unrepairable int

	for _, issue := range issues {
		switch issue.Kind {
		case IssueVanishedFile:
			vanished = append(vanished, issue.Path)
		case IssueCountMismatch, IssueStaleFingerprint:
			rebuild = true
		case IssueMissingEmbedding, IssueDimensionMismatch:
			unrepairable++
		}
	}

	if len(vanished) > 0 {
		docs, err := c.meta.ListDocuments(ctx)
		if err != nil {
			return err
		}
		byPath := make(map[string]*store.Document, len(docs))
		for _, doc := range docs {
			byPath[doc.Path] = doc
		}

		var docIDs []int64
		var chunkIDs []int64
		for _, path := range vanished {
			doc, ok := byPath[path]
			if !ok {
				continue
			}
			ids, idErr := c.meta.ChunkIDsByDoc(ctx, doc.ID)
			if idErr != nil {
				return idErr
			}
			docIDs = append(docIDs, doc.ID)
			chunkIDs = append(chunkIDs, ids...)
		}

		removed, err := c.meta.RemoveDocuments(ctx, docIDs)
		if err != nil {
			return err
		}
		if err := c.keyword.DeleteChunks(ctx, chunkIDs); err != nil {
			slog.Warn("keyword_delete_failed", "chunks", len(chunkIDs), "error", err)
		}
		slog.Info("vanished_documents_removed", "documents", removed)
		rebuild = true
	}

	if rebuild {
		if err := c.vectors.RebuildFromStore(ctx, c.meta); err != nil {
			return err
		}
	}

	if unrepairable > 0 {
		slog.Warn("chunks_need_reindex",
			"chunks", unrepairable,
			"suggestion", "run 'alicerag clear' and reindex to regenerate embeddings")
	}
	return nil
}

// QuickCheck compares counts only, for fast health probes.
func (c *Checker) QuickCheck(ctx context.Context) (bool, error) {
	_, chunks, err := c.meta.Stats(ctx)
	if err != nil {
		return false, err
	}
	return c.vectors.Count() == chunks, nil
}

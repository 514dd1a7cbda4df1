package index

import (
	"context"
	"log/slog"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
)

// RemovePaths deletes every indexed document matching the given paths,
// by exact path or directory prefix, then rebuilds the vector index.
// Paths that match nothing are not an error.
func (s *Syncer) RemovePaths(ctx context.Context, paths []string) (*RemoveReport, error) {
	targets, err := normalizeTargets(paths)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &RemoveReport{}, nil
	}

	docs, err := s.meta.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	var docIDs []int64
	var chunkIDs []int64
	for _, doc := range docs {
		if !underAnyTarget(doc.Path, targets) {
			continue
		}
		ids, idErr := s.meta.ChunkIDsByDoc(ctx, doc.ID)
		if idErr != nil {
			return nil, idErr
		}
		docIDs = append(docIDs, doc.ID)
		chunkIDs = append(chunkIDs, ids...)
	}

	var removed int
	var removeErr error
	if len(docIDs) > 0 {
		removed, removeErr = s.meta.RemoveDocuments(ctx, docIDs)
		if removeErr == nil {
			if err := s.keyword.DeleteChunks(ctx, chunkIDs); err != nil {
				slog.Warn("keyword_delete_failed", "chunks", len(chunkIDs), "error", err)
			}
		}
	}

	// Deletions commit per document, so the rebuild runs even when the
	// removal failed partway.
	if rbErr := s.vectors.RebuildFromStore(context.WithoutCancel(ctx), s.meta); rbErr != nil {
		if removeErr == nil {
			removeErr = alerrors.New(alerrors.ErrCodeSyncFailed, "vector index rebuild failed", rbErr)
		} else {
			slog.Warn("vector_rebuild_failed", "error", rbErr)
		}
	}
	if removeErr != nil {
		return nil, removeErr
	}

	slog.Info("paths_removed", "documents", removed)
	return &RemoveReport{Removed: removed}, nil
}

// Clear empties the store, the keyword index, and the vector index.
func (s *Syncer) Clear(ctx context.Context) error {
	if err := s.meta.ClearAll(ctx); err != nil {
		return err
	}
	if err := s.keyword.Clear(ctx); err != nil {
		slog.Warn("keyword_clear_failed", "error", err)
	}
	if err := s.vectors.Reset(ctx); err != nil {
		return alerrors.New(alerrors.ErrCodeSyncFailed, "vector index reset failed", err)
	}
	slog.Info("index_cleared")
	return nil
}

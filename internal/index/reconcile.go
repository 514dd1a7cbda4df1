package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
)

// GitignoreDigestKey is the store state key holding the digest of the
// ignore rules seen by the last completed sync.
const GitignoreDigestKey = "gitignore_digest"

// ReconcileReport is the outcome of one Reconcile run.
type ReconcileReport struct {
	// Indexed and Skipped mirror the embedded IndexPaths run.
	Indexed int
	Skipped int

	// Removed counts documents dropped because a fresh scan no
	// longer selects them.
	Removed int
}

// Reconcile brings the index back in line with what a fresh scan of
// the roots selects. Documents whose files became ignored, excluded,
// or oversized leave the index; files that became visible enter it.
// Used after .gitignore or config changes, where per-file events
// cannot describe which documents are affected.
func (s *Syncer) Reconcile(ctx context.Context, roots []string, recursive bool) (*ReconcileReport, error) {
	targets, err := normalizeTargets(roots)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &ReconcileReport{}, nil
	}

	s.files.InvalidateGitignoreCache()

	selected, err := s.selectedSet(ctx, targets, recursive)
	if err != nil {
		return nil, err
	}

	removed, err := s.removeUnselected(ctx, targets, selected)
	if err != nil {
		return nil, err
	}

	// The vector rebuild inside IndexPaths covers the removals above.
	rep, err := s.IndexPaths(ctx, roots, recursive)
	if err != nil {
		return nil, err
	}

	slog.Info("reconcile_complete",
		"indexed", rep.Indexed,
		"skipped", rep.Skipped,
		"removed", removed)
	return &ReconcileReport{Indexed: rep.Indexed, Skipped: rep.Skipped, Removed: removed}, nil
}

// ReconcileOnStartup reconciles only when the ignore rules changed
// while no sync was running, comparing the current gitignore digest
// against the stored one. Returns nil when nothing changed.
func (s *Syncer) ReconcileOnStartup(ctx context.Context, roots []string, recursive bool) (*ReconcileReport, error) {
	current, err := GitignoreDigest(roots)
	if err != nil {
		slog.Warn("gitignore_digest_failed", "error", err)
		return nil, nil
	}

	stored, err := s.meta.GetState(ctx, GitignoreDigestKey)
	if err != nil {
		return nil, err
	}
	if stored == current && stored != "" {
		slog.Debug("ignore_rules_unchanged")
		return nil, nil
	}

	rep, err := s.Reconcile(ctx, roots, recursive)
	if err != nil {
		return nil, err
	}
	if err := s.meta.SetState(ctx, GitignoreDigestKey, current); err != nil {
		slog.Warn("gitignore_digest_save_failed", "error", err)
	}
	return rep, nil
}

// selectedSet scans the targets and returns the set of absolute paths
// a sync would index right now.
func (s *Syncer) selectedSet(ctx context.Context, targets []target, recursive bool) (map[string]struct{}, error) {
	selected := make(map[string]struct{})

	var dirs []string
	for _, tg := range targets {
		if !tg.live {
			continue
		}
		if tg.isDir {
			dirs = append(dirs, tg.path)
			continue
		}
		if s.parsers.Supports(tg.path) && tg.size <= s.maxFileSize {
			selected[tg.path] = struct{}{}
		}
	}
	if len(dirs) == 0 {
		return selected, nil
	}

	results, err := s.files.Scan(ctx, dirs, s.scanOptions(recursive))
	if err != nil {
		return nil, alerrors.New(alerrors.ErrCodeInvalidPath, "cannot scan directory", err)
	}
	for r := range results {
		if r.Err != nil {
			slog.Debug("reconcile_scan_error", "error", r.Err)
			continue
		}
		selected[r.File.AbsPath] = struct{}{}
	}
	return selected, nil
}

// removeUnselected drops indexed documents under the targets that the
// fresh scan did not select.
func (s *Syncer) removeUnselected(ctx context.Context, targets []target, selected map[string]struct{}) (int, error) {
	docs, err := s.meta.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	var docIDs []int64
	var chunkIDs []int64
	for _, doc := range docs {
		if !underAnyTarget(doc.Path, targets) {
			continue
		}
		if _, ok := selected[doc.Path]; ok {
			continue
		}
		ids, idErr := s.meta.ChunkIDsByDoc(ctx, doc.ID)
		if idErr != nil {
			return 0, idErr
		}
		docIDs = append(docIDs, doc.ID)
		chunkIDs = append(chunkIDs, ids...)
	}
	if len(docIDs) == 0 {
		return 0, nil
	}

	removed, err := s.meta.RemoveDocuments(ctx, docIDs)
	if err != nil {
		return 0, err
	}
	if err := s.keyword.DeleteChunks(ctx, chunkIDs); err != nil {
		slog.Warn("keyword_delete_failed", "chunks", len(chunkIDs), "error", err)
	}
	return removed, nil
}

// GitignoreDigest hashes every .gitignore under the roots, in sorted
// order, so rule changes made while nothing was watching can be
// detected at startup.
func GitignoreDigest(roots []string) (string, error) {
	var files []string
	seen := make(map[string]struct{})

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			continue
		}
		walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				name := d.Name()
				if path != abs && len(name) > 0 && name[0] == '.' {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Name() != ".gitignore" {
				return nil
			}
			if _, dup := seen[path]; !dup {
				seen[path] = struct{}{}
				files = append(files, path)
			}
			return nil
		})
		if walkErr != nil {
			return "", fmt.Errorf("walk %s: %w", abs, walkErr)
		}
	}

	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		h.Write([]byte(path))
		h.Write([]byte{':'})
		h.Write(content)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

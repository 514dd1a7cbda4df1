package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmbstyle/alicerag/internal/chunk"
	"github.com/pmbstyle/alicerag/internal/embed"
	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/parse"
	"github.com/pmbstyle/alicerag/internal/scanner"
	"github.com/pmbstyle/alicerag/internal/store"
)

// Config contains the collaborators and settings for a Syncer.
type Config struct {
	// Metadata is the document and chunk store (required).
	Metadata store.MetadataStore

	// Vectors is the vector index rebuilt after every batch (required).
	Vectors *store.VectorIndex

	// Keyword is the keyword index fed on every mutation (required).
	Keyword store.KeywordIndex

	// Embedder generates chunk embeddings (required).
	Embedder embed.Embedder

	// Parsers maps file extensions to document parsers (required).
	Parsers *parse.Registry

	// Files walks directories. Created internally when nil; inject a
	// shared instance so gitignore cache invalidation reaches it.
	Files *scanner.Scanner

	// Chunking configures the document chunker.
	Chunking chunk.Options

	// MaxFileSize is the per-file ceiling in bytes. Zero means the
	// scanner default (32 MiB).
	MaxFileSize int64

	// ExcludePatterns are extra skip globs for directory walks.
	ExcludePatterns []string

	// RespectGitignore applies .gitignore files during walks.
	RespectGitignore bool

	// IncludeHidden admits dot-files and dot-directories.
	IncludeHidden bool

	// FollowSymlinks follows file symlinks during walks.
	FollowSymlinks bool

	// Reporter receives progress updates (optional).
	Reporter Reporter
}

// Syncer runs incremental indexing over file and directory paths. It
// is single-writer: the caller sequences all mutating calls.
type Syncer struct {
	meta     store.MetadataStore
	vectors  *store.VectorIndex
	keyword  store.KeywordIndex
	embedder embed.Embedder
	parsers  *parse.Registry
	files    *scanner.Scanner

	chunking         chunk.Options
	maxFileSize      int64
	exclude          []string
	respectGitignore bool
	includeHidden    bool
	followSymlinks   bool
	report           Reporter
}

// New creates a Syncer.
func New(cfg Config) (*Syncer, error) {
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if cfg.Keyword == nil {
		return nil, fmt.Errorf("keyword index is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Parsers == nil {
		return nil, fmt.Errorf("parser registry is required")
	}

	files := cfg.Files
	if files == nil {
		var err error
		files, err = scanner.New()
		if err != nil {
			return nil, err
		}
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = scanner.DefaultMaxFileSize
	}

	report := cfg.Reporter
	if report == nil {
		report = noopReporter{}
	}

	return &Syncer{
		meta:             cfg.Metadata,
		vectors:          cfg.Vectors,
		keyword:          cfg.Keyword,
		embedder:         cfg.Embedder,
		parsers:          cfg.Parsers,
		files:            files,
		chunking:         cfg.Chunking,
		maxFileSize:      maxSize,
		exclude:          cfg.ExcludePatterns,
		respectGitignore: cfg.RespectGitignore,
		includeHidden:    cfg.IncludeHidden,
		followSymlinks:   cfg.FollowSymlinks,
		report:           report,
	}, nil
}

// Scanner returns the file scanner, so watchers can invalidate its
// gitignore cache.
func (s *Syncer) Scanner() *scanner.Scanner {
	return s.files
}

// scanOptions builds the walk options every discovery pass uses, so
// indexing and reconciliation select the same files.
func (s *Syncer) scanOptions(recursive bool) scanner.Options {
	return scanner.Options{
		Extensions:       s.parsers.SupportedExtensions(),
		MaxFileSize:      s.maxFileSize,
		Recursive:        recursive,
		IncludeHidden:    s.includeHidden,
		ExcludePatterns:  s.exclude,
		RespectGitignore: s.respectGitignore,
		FollowSymlinks:   s.followSymlinks,
	}
}

// target is one normalized input path.
type target struct {
	path  string // absolute, cleaned
	isDir bool
	live  bool // a regular file or directory currently on disk
	size  int64
	mtime int64 // unix seconds
}

// candidate is one file that needs (re)processing.
type candidate struct {
	path   string
	size   int64
	mtime  int64
	digest string
	prior  *store.Document // stored row, nil when the path is new
}

// fileEntry is one discovered file before change detection.
type fileEntry struct {
	path  string
	size  int64
	mtime int64
}

// IndexPaths indexes the given files and directories incrementally.
// Unchanged files are skipped without any embedding work; per-file
// parse and embedding failures are logged and counted as skipped.
// The vector index is rebuilt from the store after the run regardless
// of outcome, so every committed change is reflected even when the
// run failed partway. Cancellation is honored at file boundaries: the
// file in flight finishes or times out, then the loop stops.
func (s *Syncer) IndexPaths(ctx context.Context, paths []string, recursive bool) (*Report, error) {
	targets, err := normalizeTargets(paths)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &Report{}, nil
	}

	rep := &Report{}
	runErr := s.run(ctx, targets, recursive, rep)

	// The prune pass and any committed upserts must reach the vector
	// index even when the run was canceled, so the rebuild uses a
	// detached context.
	s.report.Update(ProgressEvent{Stage: StageIndexing})
	if rbErr := s.vectors.RebuildFromStore(context.WithoutCancel(ctx), s.meta); rbErr != nil {
		if runErr == nil {
			runErr = alerrors.New(alerrors.ErrCodeSyncFailed, "vector index rebuild failed", rbErr)
		} else {
			slog.Warn("vector_rebuild_failed", "error", rbErr)
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	slog.Info("index_paths_complete",
		"indexed", rep.Indexed,
		"skipped", rep.Skipped,
		"targets", len(targets))
	return rep, nil
}

func (s *Syncer) run(ctx context.Context, targets []target, recursive bool, rep *Report) error {
	s.report.Update(ProgressEvent{Stage: StageScanning})

	if err := s.prune(ctx, targets); err != nil {
		return err
	}

	entries, rejected, err := s.expand(ctx, targets, recursive)
	if err != nil {
		return err
	}
	rep.Skipped += rejected

	changed, skipped, err := s.detectChanges(ctx, entries)
	if err != nil {
		return err
	}
	rep.Skipped += skipped

	if len(changed) == 0 {
		return nil
	}

	if !s.embedder.Available(ctx) {
		return alerrors.New(alerrors.ErrCodeServiceNotReady,
			"embedding service is not ready", nil).
			WithDetail("pending_files", fmt.Sprintf("%d", len(changed))).
			WithSuggestion("start the embedding service and retry, or check its logs")
	}

	for i, cand := range changed {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := s.indexFile(ctx, cand, i+1, len(changed))
		if err != nil {
			return err
		}
		if ok {
			rep.Indexed++
		} else {
			rep.Skipped++
		}
	}
	return nil
}

// prune removes stored documents under the targets whose backing file
// no longer exists or is no longer a regular file. Running this before
// re-indexing keeps stale entries from shadowing fresh ones.
func (s *Syncer) prune(ctx context.Context, targets []target) error {
	docs, err := s.meta.ListDocuments(ctx)
	if err != nil {
		return err
	}

	var staleIDs []int64
	var staleChunkIDs []int64
	for _, doc := range docs {
		if !underAnyTarget(doc.Path, targets) {
			continue
		}
		info, statErr := os.Stat(doc.Path)
		if statErr == nil && info.Mode().IsRegular() {
			continue
		}
		chunkIDs, idErr := s.meta.ChunkIDsByDoc(ctx, doc.ID)
		if idErr != nil {
			return idErr
		}
		staleIDs = append(staleIDs, doc.ID)
		staleChunkIDs = append(staleChunkIDs, chunkIDs...)
	}
	if len(staleIDs) == 0 {
		return nil
	}

	removed, err := s.meta.RemoveDocuments(ctx, staleIDs)
	if err != nil {
		return err
	}
	if err := s.keyword.DeleteChunks(ctx, staleChunkIDs); err != nil {
		slog.Warn("keyword_delete_failed", "chunks", len(staleChunkIDs), "error", err)
	}
	slog.Info("stale_documents_pruned", "documents", removed)
	return nil
}

// expand resolves targets to concrete files: direct file targets are
// checked against the supported formats and size ceiling, directory
// targets are walked by the scanner. Returns the deduplicated entries
// and how many direct targets were rejected.
func (s *Syncer) expand(ctx context.Context, targets []target, recursive bool) ([]fileEntry, int, error) {
	var entries []fileEntry
	var rejected int
	seen := make(map[string]struct{})

	var dirs []string
	for _, tg := range targets {
		if !tg.live {
			continue
		}
		if tg.isDir {
			dirs = append(dirs, tg.path)
			continue
		}
		if !s.parsers.Supports(tg.path) {
			slog.Warn("file_unsupported", "path", tg.path)
			rejected++
			continue
		}
		if tg.size > s.maxFileSize {
			slog.Warn("file_oversized", "path", tg.path, "size", tg.size, "limit", s.maxFileSize)
			rejected++
			continue
		}
		if _, dup := seen[tg.path]; dup {
			continue
		}
		seen[tg.path] = struct{}{}
		entries = append(entries, fileEntry{path: tg.path, size: tg.size, mtime: tg.mtime})
	}

	if len(dirs) > 0 {
		results, err := s.files.Scan(ctx, dirs, s.scanOptions(recursive))
		if err != nil {
			return nil, 0, alerrors.New(alerrors.ErrCodeInvalidPath, "cannot scan directory", err)
		}
		for r := range results {
			if r.Err != nil {
				slog.Warn("scan_error", "error", r.Err)
				continue
			}
			if _, dup := seen[r.File.AbsPath]; dup {
				continue
			}
			seen[r.File.AbsPath] = struct{}{}
			entries = append(entries, fileEntry{
				path:  r.File.AbsPath,
				size:  r.File.Size,
				mtime: r.File.ModTime.Unix(),
			})
		}
	}

	// The walk order is nondeterministic across roots; sort so runs
	// process and log files in a stable order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	return entries, rejected, nil
}

// detectChanges digests each entry and compares {digest, mtime, size}
// against the stored document row. A file matching on all three is
// unchanged and skipped without any embedding work; a file whose
// content cannot be read is skipped too.
func (s *Syncer) detectChanges(ctx context.Context, entries []fileEntry) (changed []candidate, skipped int, err error) {
	for _, e := range entries {
		digest, digErr := fileDigest(e.path)
		if digErr != nil {
			slog.Warn("file_digest_failed", "path", e.path, "error", digErr)
			skipped++
			continue
		}

		prior, getErr := s.meta.GetDocumentByPath(ctx, e.path)
		if getErr != nil {
			return nil, 0, getErr
		}
		if prior != nil && prior.FileHash == digest && prior.MTime == e.mtime && prior.Size == e.size {
			slog.Debug("file_unchanged", "path", e.path)
			skipped++
			continue
		}

		changed = append(changed, candidate{
			path:   e.path,
			size:   e.size,
			mtime:  e.mtime,
			digest: digest,
			prior:  prior,
		})
	}
	return changed, skipped, nil
}

// indexFile parses, chunks, embeds, and commits one changed file.
// Parse and embedding failures are per-file: logged and reported as
// not-ok. Store failures are fatal and abort the batch.
func (s *Syncer) indexFile(ctx context.Context, cand candidate, current, total int) (bool, error) {
	s.report.Update(ProgressEvent{Stage: StageChunking, Current: current, Total: total, Path: cand.path})

	doc, err := s.parsers.ParseFile(ctx, cand.path)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		slog.Warn("file_parse_failed", "path", cand.path, "error", err)
		return false, nil
	}

	chunks := chunk.ChunkDocument(doc, s.chunking)

	storeChunks := make([]*store.Chunk, len(chunks))
	if len(chunks) > 0 {
		s.report.Update(ProgressEvent{Stage: StageEmbedding, Current: current, Total: total, Path: cand.path})

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		embeddings, embErr := s.embedder.EmbedBatch(ctx, texts)
		if embErr != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			slog.Warn("file_embed_failed", "path", cand.path, "chunks", len(chunks), "error", embErr)
			return false, nil
		}

		for i, c := range chunks {
			storeChunks[i] = &store.Chunk{
				ChunkIndex: c.Index,
				Text:       c.Text,
				Embedding:  embeddings[i],
				TokenCount: c.TokenCount,
				Page:       c.Page,
				Section:    c.Section,
			}
		}
	}

	// Once the embeddings are in hand the file's commit runs to
	// completion: cancellation mid-file must not leave paid-for work
	// uncommitted, so the store writes use a detached context.
	commitCtx := context.WithoutCancel(ctx)

	// The upsert replaces the document's chunks, so their ids must be
	// captured first to evict them from the keyword index.
	var oldChunkIDs []int64
	if cand.prior != nil {
		oldChunkIDs, err = s.meta.ChunkIDsByDoc(commitCtx, cand.prior.ID)
		if err != nil {
			return false, err
		}
	}

	row := &store.Document{
		Path:     cand.path,
		FileHash: cand.digest,
		MTime:    cand.mtime,
		Size:     cand.size,
		Title:    doc.Title,
	}
	if _, err := s.meta.UpsertDocument(commitCtx, row, storeChunks); err != nil {
		return false, err
	}

	if len(oldChunkIDs) > 0 {
		if err := s.keyword.DeleteChunks(commitCtx, oldChunkIDs); err != nil {
			slog.Warn("keyword_delete_failed", "path", cand.path, "error", err)
		}
	}
	if len(storeChunks) > 0 {
		if err := s.keyword.IndexChunks(commitCtx, storeChunks); err != nil {
			slog.Warn("keyword_index_failed", "path", cand.path, "error", err)
		}
	}

	slog.Debug("file_indexed", "path", cand.path, "chunks", len(storeChunks))
	return true, nil
}

// normalizeTargets resolves, cleans, deduplicates, and classifies the
// input paths. A path that no longer exists is kept: previously
// indexed documents under it still need pruning.
func normalizeTargets(paths []string) ([]target, error) {
	seen := make(map[string]struct{}, len(paths))
	targets := make([]target, 0, len(paths))

	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, alerrors.New(alerrors.ErrCodeInvalidPath,
				fmt.Sprintf("cannot resolve path %q", p), err)
		}
		abs = filepath.Clean(abs)
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}

		tg := target{path: abs}
		info, statErr := os.Stat(abs)
		switch {
		case statErr != nil:
			// Gone from disk; stays a prune target.
		case info.IsDir():
			tg.isDir = true
			tg.live = true
		case info.Mode().IsRegular():
			tg.live = true
			tg.size = info.Size()
			tg.mtime = info.ModTime().Unix()
		default:
			// Sockets and devices are not indexable.
		}
		targets = append(targets, tg)
	}
	return targets, nil
}

// underAnyTarget reports whether the document path equals a target or
// lies inside a target directory.
func underAnyTarget(path string, targets []target) bool {
	for _, tg := range targets {
		if path == tg.path {
			return true
		}
		if strings.HasPrefix(path, tg.path+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// fileDigest returns the hex sha256 of the file's content.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

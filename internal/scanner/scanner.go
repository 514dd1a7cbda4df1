package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pmbstyle/alicerag/internal/gitignore"
)

// ignoreCacheSize bounds the number of cached gitignore matchers so a
// long-running watch process cannot grow without limit.
const ignoreCacheSize = 1000

// resultBuffer is the scan channel depth.
const resultBuffer = 64

// Scanner walks directory roots and streams indexable documents.
type Scanner struct {
	ignores *lru.Cache[string, *gitignore.Matcher]
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore cache: %w", err)
	}
	return &Scanner{ignores: cache}, nil
}

// Scan walks every root concurrently and streams results until all
// walks finish, then closes the channel. Roots must be existing
// directories; anything else fails before any walking starts.
func (s *Scanner) Scan(ctx context.Context, roots []string, opts Options) (<-chan Result, error) {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", abs)
		}
		resolved = append(resolved, abs)
	}

	results := make(chan Result, resultBuffer)

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range resolved {
		root := root
		g.Go(func() error {
			return s.walkRoot(gctx, root, opts, results)
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	return results, nil
}

// walkRoot streams one root's files. It returns an error only for
// context cancellation, so sibling walks stop too; filesystem problems
// are reported on the channel instead.
func (s *Scanner) walkRoot(ctx context.Context, root string, opts Options, results chan<- Result) error {
	extensions := opts.extensionSet()
	maxSize := opts.maxFileSize()

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if s.skipDir(rel, opts) {
				return filepath.SkipDir
			}
			if !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(p))
		if _, supported := extensions[ext]; !supported {
			return nil
		}
		if s.skipFile(rel, root, opts) {
			return nil
		}
		info, ok := s.statEntry(p, d, opts)
		if !ok {
			return nil
		}
		if info.Size() > maxSize {
			slog.Debug("file_skipped_oversized", "path", p, "size", info.Size(), "limit", maxSize)
			return nil
		}
		if isTextLike(ext) && s.looksBinary(p) {
			slog.Debug("file_skipped_binary", "path", p)
			return nil
		}

		file := &FileInfo{
			Path:    rel,
			AbsPath: p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		select {
		case results <- Result{File: file}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		select {
		case results <- Result{Err: fmt.Errorf("walk %s: %w", root, err)}:
		case <-ctx.Done():
		}
	}
	return nil
}

// statEntry resolves the entry's file info, following symlinks only
// when asked and only to regular files.
func (s *Scanner) statEntry(p string, d fs.DirEntry, opts Options) (fs.FileInfo, bool) {
	if d.Type()&fs.ModeSymlink != 0 {
		if !opts.FollowSymlinks {
			return nil, false
		}
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return nil, false
		}
		return info, true
	}

	info, err := d.Info()
	if err != nil {
		return nil, false
	}
	return info, true
}

func (s *Scanner) skipDir(rel string, opts Options) bool {
	if hidden(rel) && !opts.IncludeHidden {
		return true
	}
	base := filepath.Base(rel)
	for _, name := range defaultExcludeDirs {
		if base == name {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchPattern(rel, pattern) {
			return true
		}
	}
	return false
}

func (s *Scanner) skipFile(rel, root string, opts Options) bool {
	if hidden(rel) && !opts.IncludeHidden {
		return true
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchPattern(rel, pattern) {
			return true
		}
	}
	if opts.RespectGitignore && s.ignored(rel, root) {
		return true
	}
	return false
}

// matchPattern matches a root-relative path against one exclude glob.
// A bare pattern applies to the file name, a pattern with a separator
// to the whole relative path, and a "dir/**" suffix to everything under
// that directory.
func matchPattern(rel, pattern string) bool {
	rel = filepath.ToSlash(rel)
	pattern = filepath.ToSlash(pattern)

	switch {
	case strings.HasPrefix(pattern, "**/") && strings.HasSuffix(pattern, "/**"):
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(rel, "/") {
			if part == name {
				return true
			}
		}
		return false
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	case strings.Contains(pattern, "/"):
		ok, err := path.Match(pattern, rel)
		return err == nil && ok
	default:
		ok, err := path.Match(pattern, path.Base(rel))
		return err == nil && ok
	}
}

// looksBinary sniffs the first 512 bytes for a null byte.
func (s *Scanner) looksBinary(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

// ignored checks the root .gitignore and every .gitignore on the path
// from the root down to the file's directory.
func (s *Scanner) ignored(rel, root string) bool {
	if m := s.matcherFor(root, ""); m != nil && m.Match(rel, false) {
		return true
	}

	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	current := root
	base := ""
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		base = filepath.ToSlash(filepath.Join(base, part))
		if m := s.matcherFor(current, base); m != nil && m.Match(rel, false) {
			return true
		}
	}
	return false
}

// matcherFor loads and caches the .gitignore matcher for a directory,
// or returns nil when the directory has none.
func (s *Scanner) matcherFor(dir, base string) *gitignore.Matcher {
	if m, ok := s.ignores.Get(dir); ok {
		return m
	}

	ignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignorePath); err != nil {
		return nil
	}

	m := gitignore.New()
	if err := m.AddFromFile(ignorePath, base); err != nil {
		slog.Debug("gitignore_unreadable", "path", ignorePath, "error", err)
		return nil
	}
	s.ignores.Add(dir, m)
	return m
}

// InvalidateGitignoreCache drops cached matchers so edited .gitignore
// files take effect on the next scan.
func (s *Scanner) InvalidateGitignoreCache() {
	s.ignores.Purge()
}

// defaultExcludeDirs are directory names that never contain documents
// worth indexing.
var defaultExcludeDirs = []string{
	"node_modules",
	"__pycache__",
	"venv",
}

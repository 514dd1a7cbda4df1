// Package scanner discovers indexable documents under a set of root
// directories, applying extension, size, exclusion, and gitignore
// filters while streaming results over a channel.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSize is the indexing size ceiling.
const DefaultMaxFileSize = 32 << 20 // 32 MiB

// FileInfo describes one discovered document.
type FileInfo struct {
	// Path is relative to the scanned root.
	Path string

	// AbsPath is the absolute path, the form the store keys on.
	AbsPath string

	Size    int64
	ModTime time.Time
}

// Result is one item from the scan stream: a file or a walk error.
type Result struct {
	File *FileInfo
	Err  error
}

// Options configures a scan.
type Options struct {
	// Extensions is the allowed set, lowercase with leading dot
	// (".txt", ".pdf"). Empty admits nothing: callers pass the parser
	// registry's supported set.
	Extensions []string

	// MaxFileSize is the per-file size ceiling in bytes. Zero means
	// DefaultMaxFileSize.
	MaxFileSize int64

	// Recursive descends into subdirectories.
	Recursive bool

	// IncludeHidden admits dot-files and dot-directories.
	IncludeHidden bool

	// ExcludePatterns are extra skip globs matched against the
	// root-relative path.
	ExcludePatterns []string

	// RespectGitignore applies .gitignore files found in the tree.
	RespectGitignore bool

	// FollowSymlinks stats symlinked files instead of skipping them.
	FollowSymlinks bool
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return o.MaxFileSize
}

func (o Options) extensionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(o.Extensions))
	for _, ext := range o.Extensions {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return set
}

// textLikeExtensions are formats stored as plain text, where a null
// byte means the file is not really a document. Binary formats like
// PDF and DOCX contain null bytes legitimately and are never sniffed.
var textLikeExtensions = map[string]struct{}{
	".txt":      {},
	".md":       {},
	".markdown": {},
	".html":     {},
	".htm":      {},
}

// isTextLike reports whether the extension names a plain-text format.
func isTextLike(ext string) bool {
	_, ok := textLikeExtensions[strings.ToLower(ext)]
	return ok
}

// hidden reports whether any component of the root-relative path is a
// dot entry.
func hidden(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if len(part) > 1 && part[0] == '.' {
			return true
		}
	}
	return false
}

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Data directory layout. The relational database is the single source
// of truth; the vector index files are a rebuildable view of it.
const (
	// MetadataFile is the SQLite database holding documents, chunks,
	// and the FTS index.
	MetadataFile = "metadata.db"

	// VectorIndexFile is the persisted HNSW graph.
	VectorIndexFile = "vectors.hnsw"

	// VectorMetaFile is the gob-encoded fingerprint for the vector index.
	VectorMetaFile = "vectors.hnsw.meta"

	// KeywordBleveDir is the Bleve keyword index directory (only
	// present with the bleve backend).
	KeywordBleveDir = "keyword.bleve"

	// LockFile serializes writers across processes.
	LockFile = "lock"

	// StatusFile is the JSON snapshot of the last sync run.
	StatusFile = "status.json"
)

// MetadataPath returns the SQLite database path under dataDir.
func MetadataPath(dataDir string) string {
	return filepath.Join(dataDir, MetadataFile)
}

// VectorIndexPath returns the HNSW graph path under dataDir.
func VectorIndexPath(dataDir string) string {
	return filepath.Join(dataDir, VectorIndexFile)
}

// VectorMetaPath returns the vector fingerprint path under dataDir.
func VectorMetaPath(dataDir string) string {
	return filepath.Join(dataDir, VectorMetaFile)
}

// KeywordBlevePath returns the Bleve index directory under dataDir.
func KeywordBlevePath(dataDir string) string {
	return filepath.Join(dataDir, KeywordBleveDir)
}

// StatusPath returns the sync status snapshot path under dataDir.
func StatusPath(dataDir string) string {
	return filepath.Join(dataDir, StatusFile)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	return nil
}

// WriterLock guards the data directory against concurrent writers.
// The engine is single-writer: every process that mutates the store
// must hold this lock for the duration of its run. Works on all
// platforms (Unix, Linux, macOS, Windows).
type WriterLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWriterLock creates a lock for the given data directory.
// The lock file lives at <dataDir>/lock.
func NewWriterLock(dataDir string) *WriterLock {
	lockPath := filepath.Join(dataDir, LockFile)
	return &WriterLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the writer lock without blocking.
// Returns false if another process holds it.
func (l *WriterLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire writer lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the writer lock. Safe to call when not held.
func (l *WriterLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release writer lock: %w", err)
	}

	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *WriterLock) Path() string {
	return l.path
}

// IsLocked returns true if this process holds the lock.
func (l *WriterLock) IsLocked() bool {
	return l.locked
}

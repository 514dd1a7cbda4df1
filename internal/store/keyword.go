package store

import (
	"context"
	"fmt"
	"os"
)

// Keyword backend names accepted in configuration.
const (
	KeywordBackendSQLite = "sqlite"
	KeywordBackendBleve  = "bleve"
)

// NewKeywordIndex builds the configured keyword backend. The SQLite
// backend reuses the metadata store's FTS table; the Bleve backend
// maintains its own index directory under dataDir. Both tokenize
// queries the same way, so switching backends does not change which
// terms a query matches on.
func NewKeywordIndex(backend string, meta MetadataStore, dataDir string, extraStopwords []string) (KeywordIndex, error) {
	switch backend {
	case KeywordBackendSQLite, "":
		return &sqliteKeyword{meta: meta}, nil
	case KeywordBackendBleve:
		return NewBleveKeywordIndex(KeywordBlevePath(dataDir), extraStopwords)
	default:
		return nil, fmt.Errorf("unknown keyword backend: %q", backend)
	}
}

// DetectKeywordBackend returns the backend an existing data directory
// was built with, so a config change does not silently orphan an
// index. A Bleve directory on disk wins; otherwise SQLite.
func DetectKeywordBackend(dataDir string) string {
	if dataDir == "" {
		return KeywordBackendSQLite
	}
	if info, err := os.Stat(KeywordBlevePath(dataDir)); err == nil && info.IsDir() {
		return KeywordBackendBleve
	}
	return KeywordBackendSQLite
}

// sqliteKeyword serves keyword search straight from the metadata
// store's FTS table. The FTS triggers track the chunks table, so the
// mutation methods have nothing to do.
type sqliteKeyword struct {
	meta MetadataStore
}

var _ KeywordIndex = (*sqliteKeyword)(nil)

func (k *sqliteKeyword) IndexChunks(ctx context.Context, chunks []*Chunk) error {
	return nil
}

func (k *sqliteKeyword) DeleteChunks(ctx context.Context, chunkIDs []int64) error {
	return nil
}

func (k *sqliteKeyword) Search(ctx context.Context, queryText string, topK int) ([]*KeywordMatch, error) {
	return k.meta.QueryKeyword(ctx, queryText, topK)
}

func (k *sqliteKeyword) Clear(ctx context.Context) error {
	return nil
}

// Close is a no-op: the metadata store owns the database lifecycle.
func (k *sqliteKeyword) Close() error {
	return nil
}

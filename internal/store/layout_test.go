package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutPaths(t *testing.T) {
	dataDir := "/home/user/.alicerag"

	assert.Equal(t, filepath.Join(dataDir, "metadata.db"), MetadataPath(dataDir))
	assert.Equal(t, filepath.Join(dataDir, "vectors.hnsw"), VectorIndexPath(dataDir))
	assert.Equal(t, filepath.Join(dataDir, "vectors.hnsw.meta"), VectorMetaPath(dataDir))
	assert.Equal(t, filepath.Join(dataDir, "keyword.bleve"), KeywordBlevePath(dataDir))
	assert.Equal(t, filepath.Join(dataDir, "status.json"), StatusPath(dataDir))
}

func TestEnsureDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "data")

	require.NoError(t, EnsureDataDir(dataDir))

	info, err := os.Stat(dataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent.
	assert.NoError(t, EnsureDataDir(dataDir))
}

func TestWriterLock(t *testing.T) {
	dataDir := t.TempDir()

	first := NewWriterLock(dataDir)
	ok, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, first.IsLocked())

	// A second writer cannot take the lock while the first holds it.
	second := NewWriterLock(dataDir)
	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Unlock())
	assert.False(t, first.IsLocked())

	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}

func TestWriterLock_UnlockWithoutLock(t *testing.T) {
	lock := NewWriterLock(t.TempDir())
	assert.NoError(t, lock.Unlock())
}

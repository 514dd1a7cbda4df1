package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	s, err := NewSQLiteStore(dataDir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dataDir
}

func testDocument(path string) *Document {
	return &Document{
		Path:     path,
		FileHash: "hash-" + filepath.Base(path),
		MTime:    1700000000,
		Size:     2048,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
}

func testChunks(texts ...string) []*Chunk {
	chunks := make([]*Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &Chunk{
			Text:       text,
			TokenCount: len(strings.Fields(text)),
			Embedding:  []float32{float32(i), 1, 0, 0},
		}
	}
	return chunks
}

// chunkIDByText resolves chunk ids through the public API so tests do
// not depend on id allocation order.
func chunkIDByText(t *testing.T, s *SQLiteStore, text string) int64 {
	t.Helper()
	ctx := context.Background()
	ids, err := s.ChunkIDsOrdered(ctx)
	require.NoError(t, err)
	details, err := s.GetChunksByIDs(ctx, ids)
	require.NoError(t, err)
	for _, d := range details {
		if d.Text == text {
			return d.ChunkID
		}
	}
	t.Fatalf("no chunk with text %q", text)
	return 0
}

func TestUpsertDocument_InsertAndUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Given a new document with two chunks
	doc := testDocument("/docs/invoice.md")
	id, err := s.UpsertDocument(ctx, doc, testChunks("first chunk text", "second chunk text"))
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	docs, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 2, chunks)

	stored, err := s.GetDocumentByPath(ctx, "/docs/invoice.md")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, id, stored.ID)
	assert.Equal(t, "hash-invoice.md", stored.FileHash)
	assert.Equal(t, int64(1700000000), stored.MTime)
	assert.Equal(t, "invoice", stored.Title)
	firstCreated := stored.CreatedAt

	// When the same path is upserted with different content
	doc2 := testDocument("/docs/invoice.md")
	doc2.FileHash = "hash-v2"
	id2, err := s.UpsertDocument(ctx, doc2, testChunks("replacement chunk"))
	require.NoError(t, err)

	// Then the document keeps its id and created_at, and the old
	// chunks are gone
	assert.Equal(t, id, id2)
	_, chunks, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chunks)

	updated, err := s.GetDocumentByPath(ctx, "/docs/invoice.md")
	require.NoError(t, err)
	assert.Equal(t, "hash-v2", updated.FileHash)
	assert.True(t, updated.CreatedAt.Equal(firstCreated))
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
}

func TestUpsertDocument_ZeroChunks(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// A document that parsed to nothing indexable is still recorded,
	// so change detection can skip it next run.
	id, err := s.UpsertDocument(ctx, testDocument("/docs/empty.txt"), nil)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	docs, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 0, chunks)

	// Replacing the empty version with real content works.
	_, err = s.UpsertDocument(ctx, testDocument("/docs/empty.txt"), testChunks("now it has text"))
	require.NoError(t, err)
	_, chunks, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chunks)
}

func TestUpsertDocument_RequiresPath(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.UpsertDocument(context.Background(), &Document{}, nil)
	assert.Error(t, err)

	_, err = s.UpsertDocument(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestUpsertDocument_BackfillsChunkIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	chunks := testChunks("alpha text", "beta text")
	docID, err := s.UpsertDocument(ctx, testDocument("/docs/ids.txt"), chunks)
	require.NoError(t, err)

	for _, c := range chunks {
		assert.Greater(t, c.ID, int64(0))
	}
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)

	ids, err := s.ChunkIDsByDoc(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, []int64{chunks[0].ID, chunks[1].ID}, ids)
}

func TestChunkIDsByDoc(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	docA, err := s.UpsertDocument(ctx, testDocument("/docs/a.txt"), testChunks("a one", "a two", "a three"))
	require.NoError(t, err)
	docB, err := s.UpsertDocument(ctx, testDocument("/docs/b.txt"), testChunks("b one"))
	require.NoError(t, err)

	idsA, err := s.ChunkIDsByDoc(ctx, docA)
	require.NoError(t, err)
	assert.Len(t, idsA, 3)

	idsB, err := s.ChunkIDsByDoc(ctx, docB)
	require.NoError(t, err)
	assert.Len(t, idsB, 1)
	assert.NotContains(t, idsA, idsB[0])

	// Replacing a document yields fresh ids.
	replacement := testChunks("a replaced")
	_, err = s.UpsertDocument(ctx, testDocument("/docs/a.txt"), replacement)
	require.NoError(t, err)

	after, err := s.ChunkIDsByDoc(ctx, docA)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.NotContains(t, idsA, after[0])

	// An unknown document id yields no ids, not an error.
	none, err := s.ChunkIDsByDoc(ctx, 99999)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetDocumentByPath_Absent(t *testing.T) {
	s, _ := newTestStore(t)

	doc, err := s.GetDocumentByPath(context.Background(), "/nowhere.md")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestListDocuments_OrderedByPath(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"/docs/zeta.md", "/docs/alpha.md", "/docs/mid.md"} {
		_, err := s.UpsertDocument(ctx, testDocument(path), nil)
		require.NoError(t, err)
	}

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "/docs/alpha.md", docs[0].Path)
	assert.Equal(t, "/docs/mid.md", docs[1].Path)
	assert.Equal(t, "/docs/zeta.md", docs[2].Path)
}

func TestRemoveDocuments(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertDocument(ctx, testDocument("/a.md"), testChunks("alpha content here"))
	require.NoError(t, err)
	_, err = s.UpsertDocument(ctx, testDocument("/b.md"), testChunks("beta content here"))
	require.NoError(t, err)

	// Removing one existing and one unknown id counts only the one
	// that existed.
	removed, err := s.RemoveDocuments(ctx, []int64{id1, 99999})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	docs, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 1, chunks)

	// The removed document's chunks are gone from keyword search too.
	matches, err := s.QueryKeyword(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestQueryKeyword(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertDocument(ctx, testDocument("/billing.md"), testChunks(
		"the invoice total is due next month",
		"payment schedule covers the quarter",
		"invoice invoice invoice payment reminder",
	))
	require.NoError(t, err)

	t.Run("ranks matches best first", func(t *testing.T) {
		matches, err := s.QueryKeyword(ctx, "invoice", 10)
		require.NoError(t, err)
		require.Len(t, matches, 2)

		// The chunk mentioning the term three times wins.
		tripleID := chunkIDByText(t, s, "invoice invoice invoice payment reminder")
		assert.Equal(t, tripleID, matches[0].ChunkID)
		assert.Equal(t, 1, matches[0].Rank)
		assert.Equal(t, 2, matches[1].Rank)
	})

	t.Run("prefix matches", func(t *testing.T) {
		matches, err := s.QueryKeyword(ctx, "schedul", 10)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		scheduleID := chunkIDByText(t, s, "payment schedule covers the quarter")
		assert.Equal(t, scheduleID, matches[0].ChunkID)
	})

	t.Run("respects topK", func(t *testing.T) {
		matches, err := s.QueryKeyword(ctx, "invoice payment", 1)
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("no usable terms", func(t *testing.T) {
		matches, err := s.QueryKeyword(ctx, "is the of", 10)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("zero topK", func(t *testing.T) {
		matches, err := s.QueryKeyword(ctx, "invoice", 0)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestGetChunksByIDs_PreservesOrderDropsMissing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertDocument(ctx, testDocument("/doc.md"), []*Chunk{
		{Text: "chunk one", TokenCount: 2, Page: 1, Section: "Intro"},
		{Text: "chunk two", TokenCount: 2},
		{Text: "chunk three", TokenCount: 2, Page: 3},
	})
	require.NoError(t, err)

	one := chunkIDByText(t, s, "chunk one")
	three := chunkIDByText(t, s, "chunk three")

	details, err := s.GetChunksByIDs(ctx, []int64{three, 424242, one})
	require.NoError(t, err)
	require.Len(t, details, 2)

	// Input order preserved, missing id silently dropped.
	assert.Equal(t, "chunk three", details[0].Text)
	assert.Equal(t, 3, details[0].Page)
	assert.Equal(t, "", details[0].Section)
	assert.Equal(t, "chunk one", details[1].Text)
	assert.Equal(t, 1, details[1].Page)
	assert.Equal(t, "Intro", details[1].Section)
	assert.Equal(t, "/doc.md", details[1].Path)
	assert.Equal(t, "doc", details[1].Title)
	assert.Equal(t, 0, details[1].ChunkIndex)
	assert.Equal(t, 2, details[0].ChunkIndex)

	empty, err := s.GetChunksByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestChunkStatsAndOrdering(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	count, maxCreated, err := s.ChunkStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), maxCreated)

	_, err = s.UpsertDocument(ctx, testDocument("/a.md"), testChunks("one", "two"))
	require.NoError(t, err)
	_, err = s.UpsertDocument(ctx, testDocument("/b.md"), []*Chunk{{Text: "three", TokenCount: 1}})
	require.NoError(t, err)

	count, maxCreated, err = s.ChunkStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Greater(t, maxCreated, int64(0))

	ids, err := s.ChunkIDsOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	vectors, err := s.ChunksOrderedByID(ctx)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, ids[i], v.ID)
		assert.Greater(t, v.CreatedAt, int64(0))
	}
	// Embeddings round-trip; the chunk stored without one comes back nil.
	assert.Equal(t, []float32{0, 1, 0, 0}, vectors[0].Embedding)
	assert.Equal(t, []float32{1, 1, 0, 0}, vectors[1].Embedding)
	assert.Nil(t, vectors[2].Embedding)
}

func TestClearAll(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertDocument(ctx, testDocument("/a.md"), testChunks("searchable words here"))
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	docs, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, docs)
	assert.Equal(t, 0, chunks)

	matches, err := s.QueryKeyword(ctx, "searchable", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	value, err := s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "all-MiniLM-L6-v2"))
	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingDim, "384"))

	value, err = s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "all-MiniLM-L6-v2", value)

	// Overwrite.
	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingDim, "768"))
	value, err = s.GetState(ctx, StateKeyEmbeddingDim)
	require.NoError(t, err)
	assert.Equal(t, "768", value)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteStore(dataDir, nil)
	require.NoError(t, err)
	_, err = s.UpsertDocument(ctx, testDocument("/keep.md"), testChunks("durable keyword content"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dataDir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	docs, err := reopened.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "/keep.md", docs[0].Path)

	matches, err := reopened.QueryKeyword(ctx, "durable", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, Healthy, reopened.Health())
}

func TestFTSBackfillOnReopen(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	s, err := NewSQLiteStore(dataDir, nil)
	require.NoError(t, err)
	_, err = s.UpsertDocument(ctx, testDocument("/doc.md"), testChunks("rebuild this text"))
	require.NoError(t, err)

	// Empty the FTS table behind the triggers' back.
	_, err = s.db.Exec("INSERT INTO chunks_fts(chunks_fts) VALUES('delete-all')")
	require.NoError(t, err)
	matches, err := s.QueryKeyword(ctx, "rebuild", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
	require.NoError(t, s.Close())

	// Reopen detects the empty FTS table and repopulates it.
	reopened, err := NewSQLiteStore(dataDir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	matches, err = reopened.QueryKeyword(ctx, "rebuild", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCorruptDatabaseResetAtOpen(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	// Given a data directory with a corrupt database and stale
	// derived index files
	require.NoError(t, os.WriteFile(MetadataPath(dataDir), []byte("not a sqlite file at all"), 0o644))
	require.NoError(t, os.WriteFile(VectorIndexPath(dataDir), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(VectorMetaPath(dataDir), []byte("stale"), 0o644))

	// When the store opens
	s, err := NewSQLiteStore(dataDir, nil)
	require.NoError(t, err)
	defer s.Close()

	// Then it reset itself and reports the recovery
	assert.Equal(t, RecoveredThisSession, s.Health())
	assert.Equal(t, "recovered", s.Health().String())

	docs, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, docs)
	assert.Equal(t, 0, chunks)

	// The stale derived files were deleted with the database.
	_, statErr := os.Stat(VectorIndexPath(dataDir))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(VectorMetaPath(dataDir))
	assert.True(t, os.IsNotExist(statErr))

	// And the fresh store is fully usable.
	_, err = s.UpsertDocument(ctx, testDocument("/new.md"), testChunks("fresh start"))
	require.NoError(t, err)
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewSQLiteStore("", nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.UpsertDocument(context.Background(), testDocument("/mem.md"), testChunks("in memory"))
	require.NoError(t, err)

	matches, err := s.QueryKeyword(context.Background(), "memory", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestClosedStoreErrors(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.UpsertDocument(context.Background(), testDocument("/x.md"), nil)
	assert.ErrorIs(t, err, errClosed)

	_, err = s.ListDocuments(context.Background())
	assert.ErrorIs(t, err, errClosed)

	// Close is idempotent.
	assert.NoError(t, s.Close())
}

func TestEmbeddingCodec(t *testing.T) {
	vec := []float32{0.5, -1.25, 0, 3.75, -0.001}

	decoded, err := decodeEmbedding(encodeEmbedding(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

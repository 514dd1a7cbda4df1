package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmbstyle/alicerag/internal/embed"
	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/parse"
	"github.com/pmbstyle/alicerag/internal/store"
)

const testDims = 8

// testEmbedder wraps the deterministic embedder with switches for
// availability, injected failures, and call counting.
type testEmbedder struct {
	*embed.StaticEmbedder

	mu        sync.Mutex
	batches   int
	available bool
	failErr   error
	onBatch   func(n int)
}

func newTestEmbedder() *testEmbedder {
	return &testEmbedder{
		StaticEmbedder: embed.NewStaticEmbedder(testDims),
		available:      true,
	}
}

func (e *testEmbedder) Available(_ context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

func (e *testEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches++
	n := e.batches
	hook := e.onBatch
	failErr := e.failErr
	e.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if failErr != nil {
		return nil, failErr
	}
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (e *testEmbedder) batchCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches
}

func (e *testEmbedder) setAvailable(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = ok
}

func (e *testEmbedder) setFailErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = err
}

type syncKit struct {
	meta     *store.SQLiteStore
	vectors  *store.VectorIndex
	keyword  store.KeywordIndex
	embedder *testEmbedder
	syncer   *Syncer
	docsDir  string
}

func newSyncKit(t *testing.T) *syncKit {
	t.Helper()
	ctx := context.Background()

	meta, err := store.NewSQLiteStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	vectors := store.NewVectorIndex("", store.DefaultVectorIndexConfig(testDims))
	require.NoError(t, vectors.Initialize(ctx, meta))

	keyword, err := store.NewKeywordIndex(store.KeywordBackendSQLite, meta, "", nil)
	require.NoError(t, err)

	embedder := newTestEmbedder()

	syncer, err := New(Config{
		Metadata: meta,
		Vectors:  vectors,
		Keyword:  keyword,
		Embedder: embedder,
		Parsers:  parse.NewRegistry(),
	})
	require.NoError(t, err)

	return &syncKit{
		meta:     meta,
		vectors:  vectors,
		keyword:  keyword,
		embedder: embedder,
		syncer:   syncer,
		docsDir:  t.TempDir(),
	}
}

func (k *syncKit) writeDoc(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(k.docsDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (k *syncKit) stats(t *testing.T) (docs, chunks int) {
	t.Helper()
	docs, chunks, err := k.meta.Stats(context.Background())
	require.NoError(t, err)
	return docs, chunks
}

// keywordTexts runs a keyword query and resolves the hits to chunk
// texts.
func (k *syncKit) keywordTexts(t *testing.T, query string) []string {
	t.Helper()
	ctx := context.Background()
	matches, err := k.keyword.Search(ctx, query, 10)
	require.NoError(t, err)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
	}
	details, err := k.meta.GetChunksByIDs(ctx, ids)
	require.NoError(t, err)
	texts := make([]string, 0, len(details))
	for _, d := range details {
		texts = append(texts, d.Text)
	}
	return texts
}

func TestNew_RequiresDependencies(t *testing.T) {
	kit := newSyncKit(t)

	base := func() Config {
		return Config{
			Metadata: kit.meta,
			Vectors:  kit.vectors,
			Keyword:  kit.keyword,
			Embedder: kit.embedder,
			Parsers:  parse.NewRegistry(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"metadata", func(c *Config) { c.Metadata = nil }},
		{"vectors", func(c *Config) { c.Vectors = nil }},
		{"keyword", func(c *Config) { c.Keyword = nil }},
		{"embedder", func(c *Config) { c.Embedder = nil }},
		{"parsers", func(c *Config) { c.Parsers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "required")
		})
	}
}

func TestIndexPaths_IndexesNewFiles(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	kit.writeDoc(t, "report.txt", "The quarterly revenue grew by twelve percent over last year.")
	kit.writeDoc(t, "notes.md", "# Planning\n\nThe offsite is scheduled for the first week of October.")

	rep, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Indexed)
	assert.Equal(t, 0, rep.Skipped)

	docs, chunks := kit.stats(t)
	assert.Equal(t, 2, docs)
	assert.Equal(t, chunks, kit.vectors.Count())
	assert.True(t, kit.vectors.Ready())

	texts := kit.keywordTexts(t, "revenue")
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "quarterly revenue")
}

func TestIndexPaths_SecondRunSkipsUnchanged(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	kit.writeDoc(t, "a.txt", "The pipeline deploys to staging before production.")
	kit.writeDoc(t, "b.txt", "Rollbacks restore the previous release within a minute.")

	_, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)
	firstCalls := kit.embedder.batchCalls()
	require.Positive(t, firstCalls)

	// Nothing changed, so the second run must skip everything without
	// a single embedding request.
	rep, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, firstCalls, kit.embedder.batchCalls())
}

func TestIndexPaths_ChangedFileReindexed(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	path := kit.writeDoc(t, "policy.txt", "Password rotation happens every ninety days.")
	kit.writeDoc(t, "other.txt", "The cafeteria menu changes weekly.")
	_, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("Password rotation was replaced by hardware security keys."), 0o644))

	rep, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)

	docs, chunks := kit.stats(t)
	assert.Equal(t, 2, docs)
	assert.Equal(t, chunks, kit.vectors.Count())

	texts := kit.keywordTexts(t, "hardware")
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "hardware security keys")
	assert.Empty(t, kit.keywordTexts(t, "ninety"))
}

func TestIndexPaths_TouchedFileReprocessed(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	path := kit.writeDoc(t, "touched.txt", "The backup job runs nightly at two.")
	_, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)

	// Same content, newer mtime: the stored triple no longer matches,
	// so the file goes through the pipeline again.
	later := time.Now().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	rep, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)
	assert.Equal(t, 0, rep.Skipped)

	docs, _ := kit.stats(t)
	assert.Equal(t, 1, docs)
}

func TestIndexPaths_PruneRemovesDeletedFiles(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	doomed := kit.writeDoc(t, "doomed.txt", "This document will be deleted from disk.")
	kit.writeDoc(t, "kept.txt", "This document stays on disk.")
	_, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)

	require.NoError(t, os.Remove(doomed))

	rep, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)

	docs, chunks := kit.stats(t)
	assert.Equal(t, 1, docs)
	assert.Equal(t, chunks, kit.vectors.Count())

	row, err := kit.meta.GetDocumentByPath(ctx, doomed)
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.Empty(t, kit.keywordTexts(t, "deleted"))
}

func TestIndexPaths_MissingDirectTargetPrunes(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	path := kit.writeDoc(t, "gone.txt", "Short lived content about migrations.")
	_, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	// The path no longer exists, yet naming it still prunes its
	// stored document.
	rep, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 0, rep.Skipped)

	docs, _ := kit.stats(t)
	assert.Equal(t, 0, docs)
	assert.Equal(t, 0, kit.vectors.Count())
}

func TestIndexPaths_DirectFileTarget(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	wanted := kit.writeDoc(t, "wanted.txt", "Only this file should be indexed.")
	kit.writeDoc(t, "sibling.txt", "The sibling is not named and stays out.")

	rep, err := kit.syncer.IndexPaths(ctx, []string{wanted}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)

	docs, _ := kit.stats(t)
	assert.Equal(t, 1, docs)
	row, err := kit.meta.GetDocumentByPath(ctx, wanted)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, wanted, row.Path)
}

func TestIndexPaths_UnsupportedDirectTargetSkipped(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	path := kit.writeDoc(t, "data.xyz", "binary-ish payload")

	rep, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)

	docs, _ := kit.stats(t)
	assert.Equal(t, 0, docs)
}

func TestIndexPaths_OversizedDirectTargetSkipped(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	small, err := New(Config{
		Metadata:    kit.meta,
		Vectors:     kit.vectors,
		Keyword:     kit.keyword,
		Embedder:    kit.embedder,
		Parsers:     parse.NewRegistry(),
		MaxFileSize: 64,
	})
	require.NoError(t, err)

	path := kit.writeDoc(t, "large.txt", "This line is repeated to push the file over the tiny ceiling used in this test.")

	rep, err := small.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)

	docs, _ := kit.stats(t)
	assert.Equal(t, 0, docs)
}

func TestIndexPaths_ReadinessGate(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	path := kit.writeDoc(t, "pending.txt", "The gate fires only when work is pending.")

	// Given an unavailable embedder and a file that needs processing.
	kit.embedder.setAvailable(false)
	_, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.Error(t, err)
	var ragErr *alerrors.RagError
	require.ErrorAs(t, err, &ragErr)
	assert.Equal(t, alerrors.ErrCodeServiceNotReady, ragErr.Code)
	assert.Zero(t, kit.embedder.batchCalls())

	// When everything is already indexed, the same unavailable
	// embedder is never consulted.
	kit.embedder.setAvailable(true)
	_, err = kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)

	kit.embedder.setAvailable(false)
	rep, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)
}

func TestIndexPaths_ParseFailureSkipsFile(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	kit.writeDoc(t, "broken.pdf", "this is not a real pdf payload")
	kit.writeDoc(t, "fine.txt", "The healthy file still gets indexed.")

	rep, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)

	docs, chunks := kit.stats(t)
	assert.Equal(t, 1, docs)
	assert.Equal(t, chunks, kit.vectors.Count())
}

func TestIndexPaths_EmbedFailureSkipsFile(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	path := kit.writeDoc(t, "unlucky.txt", "The embedding service rejects this batch.")
	kit.embedder.setFailErr(fmt.Errorf("boom"))

	rep, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)

	// The failed file was never committed, so the next run retries it.
	docs, _ := kit.stats(t)
	assert.Equal(t, 0, docs)

	kit.embedder.setFailErr(nil)
	rep, err = kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)
}

func TestIndexPaths_EmptyInput(t *testing.T) {
	kit := newSyncKit(t)

	rep, err := kit.syncer.IndexPaths(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 0, rep.Skipped)

	rep, err = kit.syncer.IndexPaths(context.Background(), []string{"", "   "}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
}

func TestIndexPaths_ZeroChunkFile(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	path := kit.writeDoc(t, "empty.txt", "")

	rep, err := kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)
	assert.Zero(t, kit.embedder.batchCalls())

	// The document is recorded even with no chunks, so the next run
	// sees it as unchanged.
	docs, chunks := kit.stats(t)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 0, chunks)

	rep, err = kit.syncer.IndexPaths(ctx, []string{path}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Indexed)
	assert.Equal(t, 1, rep.Skipped)
}

func TestIndexPaths_CancellationFinishesInFlightFile(t *testing.T) {
	kit := newSyncKit(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kit.writeDoc(t, "alpha.txt", "The first file embeds before the cancel lands.")
	kit.writeDoc(t, "beta.txt", "The second file never starts.")

	// Cancel while the first file's batch is in flight. Its commit
	// must still land; the loop stops before the second file.
	kit.embedder.onBatch = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	_, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	docs, chunks := kit.stats(t)
	assert.Equal(t, 1, docs)
	require.Positive(t, chunks)

	// The rebuild runs detached from the canceled context, so the
	// vector index reflects the committed file.
	assert.Equal(t, chunks, kit.vectors.Count())

	row, err := kit.meta.GetDocumentByPath(context.Background(),
		filepath.Join(kit.docsDir, "alpha.txt"))
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestIndexPaths_PageCarryBridgesPages(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	kit.writeDoc(t, "invoice.txt", "The invoice total is\fdue on June 1 and comes to 4820 dollars.")

	rep, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)

	// The page-boundary carry stitches the total phrase to the amount
	// on the following page, so one chunk holds both.
	texts := kit.keywordTexts(t, "invoice")
	require.NotEmpty(t, texts)
	var bridged bool
	for _, text := range texts {
		if strings.Contains(text, "invoice total") && strings.Contains(text, "4820 dollars") {
			bridged = true
		}
	}
	assert.True(t, bridged, "no chunk bridges the page boundary: %q", texts)
}

func TestIndexPaths_NonRecursiveDirectory(t *testing.T) {
	kit := newSyncKit(t)
	ctx := context.Background()

	kit.writeDoc(t, "top.txt", "Top level content.")
	kit.writeDoc(t, "sub/nested.txt", "Nested content stays out without recursion.")

	rep, err := kit.syncer.IndexPaths(ctx, []string{kit.docsDir}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)

	docs, _ := kit.stats(t)
	assert.Equal(t, 1, docs)
}

package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/embed"
	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/search"
	"github.com/pmbstyle/alicerag/internal/store"
)

// MockEngine implements Engine for testing.
type MockEngine struct {
	SearchFn         func(ctx context.Context, req search.Request) ([]*search.Result, error)
	IndexPathsFn     func(ctx context.Context, paths []string, opts rag.IndexOptions) (*index.Report, error)
	RemovePathsFn    func(ctx context.Context, paths []string) (*index.RemoveReport, error)
	ClearFn          func(ctx context.Context) error
	StatsFn          func(ctx context.Context) (*store.StoreInfo, error)
	DocumentsFn      func(ctx context.Context) ([]*store.Document, error)
	DocumentByPathFn func(ctx context.Context, path string) (*store.Document, error)
}

func (m *MockEngine) Search(ctx context.Context, req search.Request) ([]*search.Result, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, req)
	}
	return []*search.Result{}, nil
}

func (m *MockEngine) IndexPaths(ctx context.Context, paths []string, opts rag.IndexOptions) (*index.Report, error) {
	if m.IndexPathsFn != nil {
		return m.IndexPathsFn(ctx, paths, opts)
	}
	return &index.Report{}, nil
}

func (m *MockEngine) RemovePaths(ctx context.Context, paths []string) (*index.RemoveReport, error) {
	if m.RemovePathsFn != nil {
		return m.RemovePathsFn(ctx, paths)
	}
	return &index.RemoveReport{}, nil
}

func (m *MockEngine) Clear(ctx context.Context) error {
	if m.ClearFn != nil {
		return m.ClearFn(ctx)
	}
	return nil
}

func (m *MockEngine) Stats(ctx context.Context) (*store.StoreInfo, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx)
	}
	return &store.StoreInfo{Health: "ok"}, nil
}

func (m *MockEngine) Documents(ctx context.Context) ([]*store.Document, error) {
	if m.DocumentsFn != nil {
		return m.DocumentsFn(ctx)
	}
	return nil, nil
}

func (m *MockEngine) DocumentByPath(ctx context.Context, path string) (*store.Document, error) {
	if m.DocumentByPathFn != nil {
		return m.DocumentByPathFn(ctx, path)
	}
	return nil, nil
}

// Ensure MockEngine implements Engine
var _ Engine = (*MockEngine)(nil)

// MockEmbedder implements embed.Embedder for testing.
type MockEmbedder struct {
	DimensionsFn func() int
	ModelNameFn  func() string
	AvailableFn  func(ctx context.Context) bool
}

func (m *MockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, m.Dimensions()), nil
}

func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = make([]float32, m.Dimensions())
	}
	return result, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.DimensionsFn != nil {
		return m.DimensionsFn()
	}
	return embed.DefaultDimensions
}

func (m *MockEmbedder) ModelName() string {
	if m.ModelNameFn != nil {
		return m.ModelNameFn()
	}
	return "all-MiniLM-L6-v2"
}

func (m *MockEmbedder) Available(ctx context.Context) bool {
	if m.AvailableFn != nil {
		return m.AvailableFn(ctx)
	}
	return true
}

func (m *MockEmbedder) Close() error { return nil }

// Ensure MockEmbedder implements embed.Embedder
var _ embed.Embedder = (*MockEmbedder)(nil)

// newTestServer creates a server with mock dependencies for testing.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer(&MockEngine{}, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)
	require.NotNil(t, srv)

	return srv
}

// =============================================================================
// Server Initialization
// =============================================================================

func TestServer_New_Success(t *testing.T) {
	// Given: valid dependencies
	engine := &MockEngine{}
	cfg := config.NewConfig()

	// When: creating server
	srv, err := NewServer(engine, &MockEmbedder{}, cfg)

	// Then: no error, server is valid
	require.NoError(t, err)
	require.NotNil(t, srv)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_New_NilEngine_ReturnsError(t *testing.T) {
	// Given: no engine

	// When: creating server
	srv, err := NewServer(nil, &MockEmbedder{}, config.NewConfig())

	// Then: error returned
	require.Error(t, err)
	assert.Nil(t, srv)
	assert.Contains(t, err.Error(), "engine")
}

func TestServer_New_NilConfig_UsesDefaults(t *testing.T) {
	// Given: nil config

	// When: creating server with nil config
	srv, err := NewServer(&MockEngine{}, &MockEmbedder{}, nil)

	// Then: server created with defaults
	require.NoError(t, err)
	require.NotNil(t, srv)
}

func TestServer_New_NilEmbedder_Allowed(t *testing.T) {
	// Given: no embedder

	// When: creating server
	srv, err := NewServer(&MockEngine{}, nil, config.NewConfig())

	// Then: server created, embedder reported as unavailable
	require.NoError(t, err)
	require.NotNil(t, srv)

	stats, err := srv.getStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "none", stats.Embeddings.Provider)
	assert.Equal(t, "unavailable", stats.Embeddings.Status)
	assert.True(t, stats.Embeddings.Degraded)
}

// =============================================================================
// Initialize Handshake
// =============================================================================

func TestServer_Info_ReturnsCorrectValues(t *testing.T) {
	// Given: a server
	srv := newTestServer(t)

	// When: getting server info
	name, ver := srv.Info()

	// Then: returns correct name and version
	assert.Equal(t, "AliceRAG", name)
	assert.NotEmpty(t, ver)
}

func TestServer_Capabilities_HasToolsAndResources(t *testing.T) {
	// Given: a server
	srv := newTestServer(t)

	// When: checking capabilities
	hasTools, hasResources := srv.Capabilities()

	// Then: both are enabled
	assert.True(t, hasTools, "tools capability should be enabled")
	assert.True(t, hasResources, "resources capability should be enabled")
}

// =============================================================================
// Tools List
// =============================================================================

func TestServer_ListTools_ReturnsAllFive(t *testing.T) {
	// Given: a server
	srv := newTestServer(t)

	// When: listing tools
	tools := srv.ListTools()

	// Then: all five tools present with descriptions
	require.Len(t, tools, 5)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		assert.NotEmpty(t, tool.Description)
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, names, []string{
		"search_docs", "index_paths", "remove_paths", "clear_index", "get_stats",
	})
}

// =============================================================================
// Tool Call Routing
// =============================================================================

func TestServer_CallTool_SearchDocsRouting(t *testing.T) {
	// Given: server with mock search returning one result
	engine := &MockEngine{
		SearchFn: func(ctx context.Context, req search.Request) ([]*search.Result, error) {
			return []*search.Result{
				{
					ChunkID: 1,
					Path:    "/home/u/notes/espresso.md",
					Title:   "Espresso Machine Guide",
					Section: "Descaling",
					Text:    "Run the descaling cycle monthly.",
					Score:   0.95,
				},
			}, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling search_docs
	result, err := srv.CallTool(context.Background(), "search_docs", map[string]any{
		"query": "descaling",
	})

	// Then: markdown output carries the source location
	require.NoError(t, err)
	markdown, ok := result.(string)
	require.True(t, ok)
	assert.Contains(t, markdown, "Found 1 result")
	assert.Contains(t, markdown, "/home/u/notes/espresso.md")
	assert.Contains(t, markdown, "Descaling")
}

func TestServer_CallTool_SearchDocs_DefaultLimit(t *testing.T) {
	// Given: server capturing the search request
	var got search.Request
	engine := &MockEngine{
		SearchFn: func(ctx context.Context, req search.Request) ([]*search.Result, error) {
			got = req
			return nil, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling search_docs without a limit
	_, err = srv.CallTool(context.Background(), "search_docs", map[string]any{
		"query": "anything",
	})

	// Then: the default limit applies
	require.NoError(t, err)
	assert.Equal(t, 10, got.TopK)
	assert.Equal(t, "anything", got.Text)
}

func TestServer_CallTool_SearchDocs_ClampsLimit(t *testing.T) {
	// Given: server capturing the search request
	var got search.Request
	engine := &MockEngine{
		SearchFn: func(ctx context.Context, req search.Request) ([]*search.Result, error) {
			got = req
			return nil, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling search_docs with an oversized limit
	_, err = srv.CallTool(context.Background(), "search_docs", map[string]any{
		"query": "anything",
		"limit": float64(500),
	})

	// Then: the limit is clamped
	require.NoError(t, err)
	assert.Equal(t, 50, got.TopK)
}

func TestServer_CallTool_SearchDocs_EngineErrorMapped(t *testing.T) {
	// Given: server whose engine fails with a service error
	engine := &MockEngine{
		SearchFn: func(ctx context.Context, req search.Request) ([]*search.Result, error) {
			return nil, alerrors.ServiceError("embedding service is down", nil)
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling search_docs
	_, err = srv.CallTool(context.Background(), "search_docs", map[string]any{
		"query": "anything",
	})

	// Then: the error surfaces as an MCP embedding failure
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeEmbeddingFailed, mcpErr.Code)
}

// =============================================================================
// Unknown Tool
// =============================================================================

func TestServer_CallTool_UnknownTool_ReturnsError(t *testing.T) {
	// Given: server
	srv := newTestServer(t)

	// When: calling non-existent tool
	_, err := srv.CallTool(context.Background(), "nonexistent_tool", nil)

	// Then: error with method not found
	require.Error(t, err)
	var mcpErr *MCPError
	if assert.ErrorAs(t, err, &mcpErr) {
		assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
	}
}

// =============================================================================
// Invalid Parameters
// =============================================================================

func TestServer_CallTool_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"search without query", "search_docs", map[string]any{}},
		{"search with empty query", "search_docs", map[string]any{"query": ""}},
		{"search with whitespace query", "search_docs", map[string]any{"query": "   "}},
		{"index without paths", "index_paths", map[string]any{}},
		{"index with empty paths", "index_paths", map[string]any{"paths": []interface{}{}}},
		{"remove without paths", "remove_paths", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: server
			srv := newTestServer(t)

			// When: calling with invalid parameters
			_, err := srv.CallTool(context.Background(), tt.tool, tt.args)

			// Then: error with invalid params
			require.Error(t, err)
			var mcpErr *MCPError
			if assert.ErrorAs(t, err, &mcpErr) {
				assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			}
		})
	}
}

// =============================================================================
// Index, Remove, Clear
// =============================================================================

func TestServer_CallTool_IndexPaths_ReportsCounts(t *testing.T) {
	// Given: server whose engine indexes three files and skips one
	var gotPaths []string
	var gotOpts rag.IndexOptions
	engine := &MockEngine{
		IndexPathsFn: func(ctx context.Context, paths []string, opts rag.IndexOptions) (*index.Report, error) {
			gotPaths = paths
			gotOpts = opts
			return &index.Report{Indexed: 3, Skipped: 1}, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling index_paths with a JSON-decoded list
	result, err := srv.CallTool(context.Background(), "index_paths", map[string]any{
		"paths": []interface{}{"/docs/a.md", "/docs/b.pdf"},
	})

	// Then: counts come back and directories walk recursively
	require.NoError(t, err)
	output, ok := result.(*IndexPathsOutput)
	require.True(t, ok)
	assert.Equal(t, 3, output.Indexed)
	assert.Equal(t, 1, output.Skipped)
	assert.Equal(t, []string{"/docs/a.md", "/docs/b.pdf"}, gotPaths)
	assert.True(t, gotOpts.Recursive)
}

func TestServer_CallTool_RemovePaths_ReportsCount(t *testing.T) {
	// Given: server whose engine removes two documents
	engine := &MockEngine{
		RemovePathsFn: func(ctx context.Context, paths []string) (*index.RemoveReport, error) {
			return &index.RemoveReport{Removed: 2}, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling remove_paths
	result, err := srv.CallTool(context.Background(), "remove_paths", map[string]any{
		"paths": []interface{}{"/docs/a.md"},
	})

	// Then: removed count comes back
	require.NoError(t, err)
	output, ok := result.(*RemovePathsOutput)
	require.True(t, ok)
	assert.Equal(t, 2, output.Removed)
}

func TestServer_CallTool_ClearIndex(t *testing.T) {
	// Given: server tracking clear calls
	cleared := false
	engine := &MockEngine{
		ClearFn: func(ctx context.Context) error {
			cleared = true
			return nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling clear_index
	result, err := srv.CallTool(context.Background(), "clear_index", nil)

	// Then: the engine cleared and the output confirms it
	require.NoError(t, err)
	output, ok := result.(*ClearIndexOutput)
	require.True(t, ok)
	assert.True(t, output.Cleared)
	assert.True(t, cleared)
}

// =============================================================================
// Stats
// =============================================================================

func TestServer_CallTool_GetStats_ReportsStore(t *testing.T) {
	// Given: server with store statistics
	engine := &MockEngine{
		StatsFn: func(ctx context.Context) (*store.StoreInfo, error) {
			return &store.StoreInfo{
				Documents:      12,
				Chunks:         340,
				Vectors:        340,
				Health:         "ok",
				KeywordBackend: "fts5",
				DataDir:        "/home/u/.alicerag",
				SizeBytes:      1 << 20,
			}, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: calling get_stats
	result, err := srv.CallTool(context.Background(), "get_stats", nil)

	// Then: store and embedder state come back
	require.NoError(t, err)
	output, ok := result.(*GetStatsOutput)
	require.True(t, ok)
	assert.Equal(t, 12, output.Documents)
	assert.Equal(t, 340, output.Chunks)
	assert.Equal(t, "fts5", output.KeywordBackend)
	assert.Equal(t, "ok", output.Health)
	assert.Equal(t, "service", output.Embeddings.Provider)
	assert.Equal(t, "ready", output.Embeddings.Status)
	assert.False(t, output.Embeddings.Degraded)
	assert.Nil(t, output.Indexing, "no tracker attached")
}

func TestServer_GetStats_StaticEmbedderDegraded(t *testing.T) {
	// Given: server running on the static fallback embedder
	embedder := &MockEmbedder{
		ModelNameFn: func() string { return "static" },
	}
	srv, err := NewServer(&MockEngine{}, embedder, config.NewConfig())
	require.NoError(t, err)

	// When: getting stats
	stats, err := srv.getStats(context.Background())

	// Then: degraded semantic quality is signaled
	require.NoError(t, err)
	assert.Equal(t, "static", stats.Embeddings.Provider)
	assert.True(t, stats.Embeddings.Degraded)
}

func TestServer_GetStats_EmbedderOffline(t *testing.T) {
	// Given: server whose embedder stopped answering
	embedder := &MockEmbedder{
		AvailableFn: func(ctx context.Context) bool { return false },
	}
	srv, err := NewServer(&MockEngine{}, embedder, config.NewConfig())
	require.NoError(t, err)

	// When: getting stats
	stats, err := srv.getStats(context.Background())

	// Then: status reports unavailable
	require.NoError(t, err)
	assert.Equal(t, "unavailable", stats.Embeddings.Status)
}

func TestServer_GetStats_IncludesIndexingProgress(t *testing.T) {
	// Given: server with a tracker mid-run
	srv := newTestServer(t)
	tracker := async.NewTracker("")
	srv.SetTracker(tracker)
	tracker.StartRun()
	tracker.Update(index.ProgressEvent{Stage: index.StageEmbedding, Current: 4, Total: 10})

	// When: getting stats
	stats, err := srv.getStats(context.Background())

	// Then: run progress is included
	require.NoError(t, err)
	require.NotNil(t, stats.Indexing)
	assert.Equal(t, string(async.StatusIndexing), stats.Indexing.Status)
	assert.Equal(t, string(index.StageEmbedding), stats.Indexing.Stage)
	assert.Equal(t, 10, stats.Indexing.FilesTotal)
	assert.Equal(t, 4, stats.Indexing.FilesProcessed)
}

// =============================================================================
// Search During Indexing
// =============================================================================

func TestServer_CallTool_SearchDuringIndexing_ReturnsNotice(t *testing.T) {
	// Given: server with an active indexing run
	searched := false
	engine := &MockEngine{
		SearchFn: func(ctx context.Context, req search.Request) ([]*search.Result, error) {
			searched = true
			return nil, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	tracker := async.NewTracker("")
	srv.SetTracker(tracker)
	tracker.StartRun()

	// When: calling search_docs mid-run
	result, err := srv.CallTool(context.Background(), "search_docs", map[string]any{
		"query": "anything",
	})

	// Then: a progress notice comes back instead of results
	require.NoError(t, err)
	markdown, ok := result.(string)
	require.True(t, ok)
	assert.Contains(t, markdown, "Indexing in Progress")
	assert.False(t, searched, "search should not run during indexing")
}

func TestServer_CallTool_SearchAfterIndexing_RunsNormally(t *testing.T) {
	// Given: server whose indexing run finished
	searched := false
	engine := &MockEngine{
		SearchFn: func(ctx context.Context, req search.Request) ([]*search.Result, error) {
			searched = true
			return nil, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	tracker := async.NewTracker("")
	srv.SetTracker(tracker)
	tracker.StartRun()
	tracker.Done(nil)

	// When: calling search_docs after the run
	_, err = srv.CallTool(context.Background(), "search_docs", map[string]any{
		"query": "anything",
	})

	// Then: the search executes
	require.NoError(t, err)
	assert.True(t, searched)
}

// =============================================================================
// Resources
// =============================================================================

func TestServer_ListResources_ReturnsIndexedDocuments(t *testing.T) {
	// Given: server with two indexed documents
	engine := &MockEngine{
		DocumentsFn: func(ctx context.Context) ([]*store.Document, error) {
			return []*store.Document{
				{Path: "/docs/guide.md", Title: "Setup Guide"},
				{Path: "/docs/report.pdf"},
			}, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: listing resources
	resources, err := srv.ListResources(context.Background())

	// Then: both documents appear with doc URIs and MIME types
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "doc:///docs/guide.md", resources[0].URI)
	assert.Equal(t, "Setup Guide", resources[0].Name)
	assert.Equal(t, "text/markdown", resources[0].MIMEType)
	assert.Equal(t, "doc:///docs/report.pdf", resources[1].URI)
	assert.Equal(t, "report.pdf", resources[1].Name, "falls back to the base name")
}

func TestServer_ListResources_Empty(t *testing.T) {
	// Given: server with nothing indexed
	srv := newTestServer(t)

	// When: listing resources
	resources, err := srv.ListResources(context.Background())

	// Then: empty list, no error
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestServer_ReadResource_UnknownScheme(t *testing.T) {
	// Given: server
	srv := newTestServer(t)

	// When: reading a URI outside the doc scheme
	_, err := srv.ReadResource(context.Background(), "file:///etc/passwd")

	// Then: resource not found
	require.Error(t, err)
	var mcpErr *MCPError
	if assert.ErrorAs(t, err, &mcpErr) {
		assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestServer_Close_ReleasesResources(t *testing.T) {
	// Given: server
	srv := newTestServer(t)

	// When: closing server
	err := srv.Close()

	// Then: no error
	assert.NoError(t, err)
}

func TestServer_Serve_UnknownTransport(t *testing.T) {
	// Given: server
	srv := newTestServer(t)

	// When: serving on an unsupported transport
	err := srv.Serve(context.Background(), "sse")

	// Then: error names the transport
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sse")
}

// =============================================================================
// Concurrent Requests
// =============================================================================

func TestServer_ConcurrentRequests_RaceSafe(t *testing.T) {
	// Given: server with mock search
	callCount := 0
	var mu sync.Mutex

	engine := &MockEngine{
		SearchFn: func(ctx context.Context, req search.Request) ([]*search.Result, error) {
			mu.Lock()
			callCount++
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			return []*search.Result{}, nil
		},
	}
	srv, err := NewServer(engine, &MockEmbedder{}, config.NewConfig())
	require.NoError(t, err)

	// When: 10 concurrent requests
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.CallTool(context.Background(), "search_docs", map[string]any{
				"query": "test query",
			})
			assert.NoError(t, err)
		}()
	}

	// Then: all complete without race
	wg.Wait()
	assert.Equal(t, 10, callCount)
}

// =============================================================================
// Argument Coercion
// =============================================================================

func TestStringSlice(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, nil},
		{"string slice passthrough", []string{"a", "b"}, []string{"a", "b"}},
		{"json decoded list", []interface{}{"a", "b"}, []string{"a", "b"}},
		{"mixed types keep strings", []interface{}{"a", 7, "b"}, []string{"a", "b"}},
		{"wrong type", "a", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stringSlice(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

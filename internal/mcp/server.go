// Package mcp implements the Model Context Protocol server for
// AliceRAG. It exposes the document index to AI clients as five tools
// plus a doc:// resource per indexed document, over stdio transport.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/embed"
	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/parse"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/search"
	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/telemetry"
	"github.com/pmbstyle/alicerag/pkg/version"
)

// Tool descriptions shared by registration and listing.
const (
	searchDocsDescription = "Search the local document index. Finds passages from indexed notes, manuals, and papers by meaning and by keywords. Results carry the source path, page, and section so answers can be cited."

	indexPathsDescription = "Add files or directories to the document index. Directories are walked recursively; unchanged files are skipped, so re-indexing is cheap."

	removePathsDescription = "Remove documents from the index by file or directory path. The files themselves are not touched."

	clearIndexDescription = "Empty the document index completely. The indexed files on disk are not touched."

	getStatsDescription = "Check index health, document counts, and which embedder is active. Use before searching to verify the index is ready."
)

// Engine is the retrieval surface the server drives. *rag.Engine
// implements it; tests substitute their own.
type Engine interface {
	Search(ctx context.Context, req search.Request) ([]*search.Result, error)
	IndexPaths(ctx context.Context, paths []string, opts rag.IndexOptions) (*index.Report, error)
	RemovePaths(ctx context.Context, paths []string) (*index.RemoveReport, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (*store.StoreInfo, error)
	Documents(ctx context.Context) ([]*store.Document, error)
	DocumentByPath(ctx context.Context, path string) (*store.Document, error)
}

// Server is the MCP server for AliceRAG. It bridges AI clients with
// the retrieval engine over one data directory.
type Server struct {
	mcp      *mcp.Server
	engine   Engine
	embedder embed.Embedder // capability signaling only, may be nil
	parser   *parse.Registry
	config   *config.Config
	logger   *slog.Logger

	// Background indexing progress (nil unless serve wires one)
	tracker *async.Tracker

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server over an initialized engine. The
// embedder is used for capability signaling: clients can query the
// live embedder state to adjust how much they trust semantic ranking.
func NewServer(engine Engine, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		embedder: embedder, // may be nil, reported as unavailable
		parser: parse.NewRegistryWithOptions(parse.RegistryOptions{
			ParseTimeout: config.DurationOr(cfg.Sync.ParseTimeout, parse.DefaultParseTimeout),
		}),
		config: cfg,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "AliceRAG",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools and resources
	)

	s.registerTools()

	return s, nil
}

// SetTracker attaches a background indexing tracker. With one
// attached, get_stats reports run progress and search answers with a
// progress notice while a run is active.
func (s *Server) SetTracker(t *async.Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker = t
}

// SetMetrics attaches a query telemetry collector. With one attached,
// a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "AliceRAG", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "search_docs", Description: searchDocsDescription},
		{Name: "index_paths", Description: indexPathsDescription},
		{Name: "remove_paths", Description: removePathsDescription},
		{Name: "clear_index", Description: clearIndexDescription},
		{Name: "get_stats", Description: getStatsDescription},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_docs":
		return s.handleSearchDocsTool(ctx, args)
	case "index_paths":
		return s.handleIndexPathsTool(ctx, args)
	case "remove_paths":
		return s.handleRemovePathsTool(ctx, args)
	case "clear_index":
		return s.handleClearIndexTool(ctx)
	case "get_stats":
		return s.handleGetStatsTool(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// currentTracker reads the tracker under the lock.
func (s *Server) currentTracker() *async.Tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker
}

// handleSearchDocsTool handles the search_docs tool invocation.
// Returns markdown-formatted results.
func (s *Server) handleSearchDocsTool(ctx context.Context, args map[string]any) (string, error) {
	if t := s.currentTracker(); t != nil && t.IsIndexing() {
		return indexingInProgressMessage(t.Snapshot()), nil
	}

	query, _ := args["query"].(string)

	limit := 0
	if l, ok := args["limit"].(float64); ok {
		limit = int(l)
	}

	results, err := s.searchDocs(ctx, query, limit)
	if err != nil {
		return "", err
	}

	return FormatSearchResults(query, results), nil
}

// handleIndexPathsTool handles the index_paths tool invocation.
func (s *Server) handleIndexPathsTool(ctx context.Context, args map[string]any) (*IndexPathsOutput, error) {
	return s.indexPaths(ctx, stringSlice(args["paths"]))
}

// handleRemovePathsTool handles the remove_paths tool invocation.
func (s *Server) handleRemovePathsTool(ctx context.Context, args map[string]any) (*RemovePathsOutput, error) {
	return s.removePaths(ctx, stringSlice(args["paths"]))
}

// handleClearIndexTool handles the clear_index tool invocation.
func (s *Server) handleClearIndexTool(ctx context.Context) (*ClearIndexOutput, error) {
	return s.clearIndex(ctx)
}

// handleGetStatsTool handles the get_stats tool invocation.
func (s *Server) handleGetStatsTool(ctx context.Context) (*GetStatsOutput, error) {
	return s.getStats(ctx)
}

// searchDocs validates and executes one search_docs query.
func (s *Server) searchDocs(ctx context.Context, query string, limit int) ([]*search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	limit = clampLimit(limit, 10, 1, 50)

	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("search_docs started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	results, err := s.engine.Search(ctx, search.Request{Text: query, TopK: limit})
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_docs failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("search_docs completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	return results, nil
}

// indexPaths validates and executes one index_paths run.
func (s *Server) indexPaths(ctx context.Context, paths []string) (*IndexPathsOutput, error) {
	if len(paths) == 0 {
		return nil, NewInvalidParamsError("paths parameter is required and must be a non-empty list of strings")
	}

	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_paths started",
		slog.String("request_id", requestID),
		slog.Int("path_count", len(paths)))

	report, err := s.engine.IndexPaths(ctx, paths, rag.IndexOptions{Recursive: true})
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("index_paths failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("index_paths completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("indexed", report.Indexed),
		slog.Int("skipped", report.Skipped))

	return &IndexPathsOutput{
		Indexed:    report.Indexed,
		Skipped:    report.Skipped,
		DurationMs: duration.Milliseconds(),
	}, nil
}

// removePaths validates and executes one remove_paths run.
func (s *Server) removePaths(ctx context.Context, paths []string) (*RemovePathsOutput, error) {
	if len(paths) == 0 {
		return nil, NewInvalidParamsError("paths parameter is required and must be a non-empty list of strings")
	}

	requestID := generateRequestID()

	report, err := s.engine.RemovePaths(ctx, paths)
	if err != nil {
		s.logger.Error("remove_paths failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("remove_paths completed",
		slog.String("request_id", requestID),
		slog.Int("removed", report.Removed))

	return &RemovePathsOutput{Removed: report.Removed}, nil
}

// clearIndex executes one clear_index run.
func (s *Server) clearIndex(ctx context.Context) (*ClearIndexOutput, error) {
	requestID := generateRequestID()

	if err := s.engine.Clear(ctx); err != nil {
		s.logger.Error("clear_index failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("clear_index completed", slog.String("request_id", requestID))

	return &ClearIndexOutput{Cleared: true}, nil
}

// getStats collects store statistics plus the live embedder state.
func (s *Server) getStats(ctx context.Context) (*GetStatsOutput, error) {
	info, err := s.engine.Stats(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	out := &GetStatsOutput{
		DataDir:        info.DataDir,
		Documents:      info.Documents,
		Chunks:         info.Chunks,
		Vectors:        info.Vectors,
		Health:         info.Health,
		KeywordBackend: info.KeywordBackend,
		SizeBytes:      info.SizeBytes,
		Embeddings:     s.embeddingInfo(ctx),
	}

	if t := s.currentTracker(); t != nil {
		snap := t.Snapshot()
		out.Indexing = &IndexingProgress{
			Status:         string(snap.Status),
			Stage:          snap.Stage,
			FilesTotal:     snap.FilesTotal,
			FilesProcessed: snap.FilesProcessed,
			ProgressPct:    snap.ProgressPct,
			ElapsedSeconds: snap.ElapsedSeconds,
			Error:          snap.Error,
		}
	}

	return out, nil
}

// embeddingInfo probes the embedder for its live state.
func (s *Server) embeddingInfo(ctx context.Context) EmbeddingInfo {
	if s.embedder == nil {
		return EmbeddingInfo{
			Provider: "none",
			Model:    "none",
			Status:   "unavailable",
			Degraded: true,
		}
	}

	info := EmbeddingInfo{
		Model:      s.embedder.ModelName(),
		Dimensions: s.embedder.Dimensions(),
	}
	if info.Model == string(embed.ProviderStatic) {
		info.Provider = string(embed.ProviderStatic)
		info.Degraded = true
	} else {
		info.Provider = string(embed.ProviderService)
	}
	if s.embedder.Available(ctx) {
		info.Status = "ready"
	} else {
		info.Status = "unavailable"
	}
	return info
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: searchDocsDescription,
	}, s.mcpSearchDocsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_docs"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_paths",
		Description: indexPathsDescription,
	}, s.mcpIndexPathsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_paths"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_paths",
		Description: removePathsDescription,
	}, s.mcpRemovePathsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "remove_paths"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_index",
		Description: clearIndexDescription,
	}, s.mcpClearIndexHandler)
	s.logger.Debug("Registered tool", slog.String("name", "clear_index"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_stats",
		Description: getStatsDescription,
	}, s.mcpGetStatsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "get_stats"))

	s.logger.Info("MCP tools registered", slog.Int("count", 5))
}

// mcpSearchDocsHandler is the MCP SDK handler for the search_docs tool.
func (s *Server) mcpSearchDocsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (
	*mcp.CallToolResult,
	SearchDocsOutput,
	error,
) {
	results, err := s.searchDocs(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, SearchDocsOutput{}, err
	}

	output := SearchDocsOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}
	for _, r := range results {
		if r != nil {
			output.Results = append(output.Results, ToSearchResultOutput(r))
		}
	}

	return nil, output, nil
}

// mcpIndexPathsHandler is the MCP SDK handler for the index_paths tool.
func (s *Server) mcpIndexPathsHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexPathsInput) (
	*mcp.CallToolResult,
	*IndexPathsOutput,
	error,
) {
	output, err := s.indexPaths(ctx, input.Paths)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// mcpRemovePathsHandler is the MCP SDK handler for the remove_paths tool.
func (s *Server) mcpRemovePathsHandler(ctx context.Context, _ *mcp.CallToolRequest, input RemovePathsInput) (
	*mcp.CallToolResult,
	*RemovePathsOutput,
	error,
) {
	output, err := s.removePaths(ctx, input.Paths)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// mcpClearIndexHandler is the MCP SDK handler for the clear_index tool.
func (s *Server) mcpClearIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ClearIndexInput) (
	*mcp.CallToolResult,
	*ClearIndexOutput,
	error,
) {
	output, err := s.clearIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// mcpGetStatsHandler is the MCP SDK handler for the get_stats tool.
func (s *Server) mcpGetStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatsInput) (
	*mcp.CallToolResult,
	*GetStatsOutput,
	error,
) {
	output, err := s.getStats(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// ListResources returns all available resources.
func (s *Server) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	docs, err := s.engine.Documents(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	resources := make([]ResourceInfo, 0, len(docs))
	for _, d := range docs {
		resources = append(resources, ResourceInfo{
			URI:      docURI(d.Path),
			Name:     documentName(d),
			MIMEType: MimeTypeForPath(d.Path),
		})
	}

	return resources, nil
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	path, ok := strings.CutPrefix(uri, docScheme)
	if !ok {
		return nil, NewResourceNotFoundError(uri)
	}

	result, err := s.readDocument(ctx, path)
	if err != nil {
		return nil, err
	}

	return &ResourceContent{
		URI:      uri,
		Content:  result.Contents[0].Text,
		MIMEType: result.Contents[0].MIMEType,
	}, nil
}

// Serve runs the server on the given transport until the context is
// canceled. Only stdio is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The MCP server itself stops when
// its context is canceled.
func (s *Server) Close() error {
	return nil
}

// stringSlice coerces a tool argument into a string slice. JSON
// decoding hands lists over as []interface{}.
func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

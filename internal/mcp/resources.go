package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pmbstyle/alicerag/internal/parse"
	"github.com/pmbstyle/alicerag/internal/store"
)

// MaxResourceSize is the maximum document size served as a resource.
const MaxResourceSize = 4 * 1024 * 1024

// docScheme prefixes resource URIs; the rest is the document's
// absolute path.
const docScheme = "doc://"

// docURI builds the resource URI for a document path.
func docURI(path string) string {
	return docScheme + path
}

// documentName returns the display name for a document resource.
func documentName(d *store.Document) string {
	if d.Title != "" {
		return d.Title
	}
	return filepath.Base(d.Path)
}

// RegisterResources registers every indexed document as an MCP
// resource. Call after the server is created and before serving.
func (s *Server) RegisterResources(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.engine.Documents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	for _, d := range docs {
		s.registerDocResource(d)
	}

	s.logger.Info("registered resources", "count", len(docs))
	return nil
}

// registerDocResource registers a single document as an MCP resource.
func (s *Server) registerDocResource(d *store.Document) {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        documentName(d),
			URI:         docURI(d.Path),
			Description: fmt.Sprintf("%s (%s)", d.Path, humanSize(d.Size)),
			MIMEType:    MimeTypeForPath(d.Path),
		},
		s.makeDocHandler(d.Path),
	)
}

// makeDocHandler creates a read handler for a specific document path.
func (s *Server) makeDocHandler(path string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readDocument(ctx, path)
	}
}

// readDocument serves a document's text content. Text formats are
// read verbatim; extraction formats are re-parsed, so the client sees
// the same text that was indexed.
func (s *Server) readDocument(ctx context.Context, path string) (*mcp.ReadResourceResult, error) {
	if !isValidPath(path) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid path: %s", path))
	}

	doc, err := s.engine.DocumentByPath(ctx, path)
	if err != nil {
		return nil, MapError(err)
	}
	if doc == nil {
		return nil, NewResourceNotFoundError(docURI(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MCPError{
				Code:    ErrCodeDocumentNotFound,
				Message: fmt.Sprintf("document not found on disk: %s", path),
			}
		}
		return nil, MapError(err)
	}

	if info.Size() > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeDocumentTooLarge,
			Message: fmt.Sprintf("document too large: %d bytes (max %d)", info.Size(), MaxResourceSize),
		}
	}

	var text string
	if isExtractedFormat(path) {
		parsed, err := s.parser.ParseFile(ctx, path)
		if err != nil {
			return nil, MapError(err)
		}
		text = joinSections(parsed)
	} else {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, MapError(err)
		}
		text = string(content)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      docURI(path),
				MIMEType: MimeTypeForPath(path),
				Text:     text,
			},
		},
	}, nil
}

// joinSections flattens parsed sections back into one text block.
func joinSections(doc *parse.Document) string {
	parts := make([]string, 0, len(doc.Sections))
	for _, sec := range doc.Sections {
		if sec.Text != "" {
			parts = append(parts, sec.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// isValidPath accepts only the clean absolute paths the index stores.
func isValidPath(path string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return false
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return false
		}
	}
	return filepath.Clean(path) == path
}

// humanSize formats bytes as a human-readable string.
func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// QueryMetricsOutput is the JSON structure of the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	QueryTypeCounts     map[string]int64    `json:"query_type_counts"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	TimePeriod    string  `json:"time_period"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

// QueryTermCount is a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         "alicerag://query_metrics",
			Description: "Query pattern telemetry for retrieval tuning",
			MIMEType:    "application/json",
		},
		s.makeQueryMetricsHandler(),
	)
}

// makeQueryMetricsHandler creates a handler for the query_metrics resource.
func (s *Server) makeQueryMetricsHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.RLock()
		metrics := s.metrics
		s.mu.RUnlock()

		if metrics == nil {
			return nil, NewInvalidParamsError("query metrics not available")
		}

		snapshot := metrics.Snapshot()

		output := QueryMetricsOutput{
			Summary: QueryMetricsSummary{
				TotalQueries:  snapshot.TotalQueries,
				TimePeriod:    "session",
				ZeroResultPct: snapshot.ZeroResultPercentage(),
			},
			QueryTypeCounts:     make(map[string]int64),
			TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
			ZeroResultQueries:   snapshot.ZeroResultQueries,
			LatencyDistribution: make(map[string]int64),
		}

		for qt, count := range snapshot.QueryTypeCounts {
			output.QueryTypeCounts[string(qt)] = count
		}
		for _, tc := range snapshot.TopTerms {
			output.TopTerms = append(output.TopTerms, QueryTermCount{
				Term:  tc.Term,
				Count: tc.Count,
			})
		}
		for bucket, count := range snapshot.LatencyDistribution {
			output.LatencyDistribution[string(bucket)] = count
		}

		content, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return nil, MapError(err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      "alicerag://query_metrics",
					MIMEType: "application/json",
					Text:     string(content),
				},
			},
		}, nil
	}
}

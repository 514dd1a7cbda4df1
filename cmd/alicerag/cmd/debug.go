package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/ui"
	"github.com/pmbstyle/alicerag/pkg/version"
)

// DebugInfo is the debug --json payload.
type DebugInfo struct {
	Version          string         `json:"version"`
	GoVersion        string         `json:"go_version"`
	Platform         string         `json:"platform"`
	DataDir          string         `json:"data_dir"`
	Documents        int            `json:"documents"`
	Chunks           int            `json:"chunks"`
	Vectors          int            `json:"vectors"`
	Formats          map[string]int `json:"formats,omitempty"`
	LastIndexed      time.Time      `json:"last_indexed"`
	EmbedderProvider string         `json:"embedder_provider"`
	EmbedderModel    string         `json:"embedder_model"`
	Dimensions       int            `json:"dimensions"`
	KeywordBackend   string         `json:"keyword_backend"`
	MetadataBytes    int64          `json:"metadata_bytes"`
	KeywordBytes     int64          `json:"keyword_bytes"`
	VectorBytes      int64          `json:"vector_bytes"`
	TotalBytes       int64          `json:"total_bytes"`
	Health           string         `json:"health"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Show internal index state for troubleshooting",
		Long: `Dump internal index state: counts, format distribution, embedder
identity, per-store sizes, and build info.

Attach this output to bug reports. Use 'debug chunks <path>' to see
how one document was split.`,
		Example: `  # Dump index internals
  alicerag debug

  # As JSON
  alicerag debug --json

  # Inspect one document's chunks
  alicerag debug chunks docs/setup.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDebug(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newDebugChunksCmd())

	return cmd
}

func newDebugChunksCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "chunks <path>",
		Short: "Show how a document was chunked",
		Long: `List one indexed document's chunks in order, with page, section,
and a short text preview per chunk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebugChunks(cmd.Context(), cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDebug(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !indexExists(cfg.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'alicerag index <path>' to create one", cfg.DataDir)
	}

	engine, cleanup, err := openEngineDetached(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := collectDebugInfo(ctx, engine, cfg)
	if err != nil {
		return err
	}

	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	}

	printDebugInfo(cmd, info)
	return nil
}

func collectDebugInfo(ctx context.Context, engine *rag.Engine, cfg *config.Config) (*DebugInfo, error) {
	stats, err := engine.Stats(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := engine.Documents(ctx)
	if err != nil {
		return nil, err
	}

	formats := make(map[string]int)
	var lastIndexed time.Time
	for _, doc := range docs {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(doc.Path), "."))
		formats[normalizeFormat(ext)]++
		if doc.UpdatedAt.After(lastIndexed) {
			lastIndexed = doc.UpdatedAt
		}
	}

	build := version.GetInfo()
	info := &DebugInfo{
		Version:          build.Version,
		GoVersion:        build.GoVersion,
		Platform:         build.OS + "/" + build.Arch,
		DataDir:          cfg.DataDir,
		Documents:        stats.Documents,
		Chunks:           stats.Chunks,
		Vectors:          stats.Vectors,
		Formats:          formats,
		LastIndexed:      lastIndexed,
		EmbedderProvider: effectiveProvider(cfg, false),
		EmbedderModel:    cfg.Embeddings.Model,
		KeywordBackend:   stats.KeywordBackend,
		MetadataBytes:    getFileSize(store.MetadataPath(cfg.DataDir)),
		KeywordBytes:     getDirSize(store.KeywordBlevePath(cfg.DataDir)),
		Health:           stats.Health,
	}
	info.VectorBytes = getFileSize(store.VectorIndexPath(cfg.DataDir)) +
		getFileSize(store.VectorMetaPath(cfg.DataDir))
	info.TotalBytes = stats.SizeBytes

	if fp, err := store.ReadFingerprint(cfg.DataDir); err == nil {
		info.Dimensions = fp.Dimensions
	}

	return info, nil
}

func printDebugInfo(cmd *cobra.Command, info *DebugInfo) {
	stdout := cmd.OutOrStdout()

	fmt.Fprintln(stdout, "AliceRAG Debug Info")
	fmt.Fprintln(stdout, "===================")
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "DOCUMENTS & CHUNKS")
	fmt.Fprintf(stdout, "  Documents:    %s\n", formatNumber(info.Documents))
	fmt.Fprintf(stdout, "  Chunks:       %s\n", formatNumber(info.Chunks))
	fmt.Fprintf(stdout, "  Formats:      %s\n", formatFormats(info.Formats, info.Documents))
	fmt.Fprintf(stdout, "  Last indexed: %s\n", formatAge(info.LastIndexed))
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "EMBEDDER")
	fmt.Fprintf(stdout, "  Provider:     %s\n", info.EmbedderProvider)
	fmt.Fprintf(stdout, "  Model:        %s\n", info.EmbedderModel)
	fmt.Fprintf(stdout, "  Dimensions:   %d\n", info.Dimensions)
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "KEYWORD INDEX")
	fmt.Fprintf(stdout, "  Backend:      %s\n", info.KeywordBackend)
	fmt.Fprintf(stdout, "  Size:         %s\n", debugSize(info.KeywordBytes))
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "VECTOR STORE")
	fmt.Fprintf(stdout, "  Vectors:      %s\n", formatNumber(info.Vectors))
	fmt.Fprintf(stdout, "  Size:         %s\n", debugSize(info.VectorBytes))
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "STORAGE")
	fmt.Fprintf(stdout, "  Data dir:     %s\n", info.DataDir)
	fmt.Fprintf(stdout, "  Metadata:     %s\n", debugSize(info.MetadataBytes))
	fmt.Fprintf(stdout, "  Total:        %s\n", debugSize(info.TotalBytes))
	fmt.Fprintf(stdout, "  Health:       %s\n", info.Health)
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "BUILD")
	fmt.Fprintf(stdout, "  Version:      %s\n", info.Version)
	fmt.Fprintf(stdout, "  Go:           %s\n", info.GoVersion)
	fmt.Fprintf(stdout, "  Platform:     %s\n", info.Platform)
}

// debugChunkInfo is one chunk in the debug chunks --json payload.
type debugChunkInfo struct {
	ChunkID    int64  `json:"chunk_id"`
	ChunkIndex int    `json:"chunk_index"`
	Page       int    `json:"page,omitempty"`
	Section    string `json:"section,omitempty"`
	Chars      int    `json:"chars"`
	Text       string `json:"text"`
}

// debugChunksReport is the debug chunks --json payload.
type debugChunksReport struct {
	Path   string           `json:"path"`
	DocID  int64            `json:"doc_id"`
	Title  string           `json:"title,omitempty"`
	Chunks []debugChunkInfo `json:"chunks"`
}

func runDebugChunks(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !indexExists(cfg.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'alicerag index <path>' to create one", cfg.DataDir)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	engine, cleanup, err := openEngineDetached(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	doc, err := engine.DocumentByPath(ctx, abs)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("path is not indexed: %s", abs)
	}

	chunks, err := engine.DocumentChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		report := debugChunksReport{
			Path:   doc.Path,
			DocID:  doc.ID,
			Title:  doc.Title,
			Chunks: make([]debugChunkInfo, len(chunks)),
		}
		for i, c := range chunks {
			report.Chunks[i] = debugChunkInfo{
				ChunkID:    c.ChunkID,
				ChunkIndex: c.ChunkIndex,
				Page:       c.Page,
				Section:    c.Section,
				Chars:      len(c.Text),
				Text:       c.Text,
			}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "Document: %s (id %d)\n", doc.Path, doc.ID)
	if doc.Title != "" {
		fmt.Fprintf(stdout, "Title: %s\n", doc.Title)
	}
	fmt.Fprintf(stdout, "Chunks: %d\n", len(chunks))

	for _, c := range chunks {
		var loc strings.Builder
		if c.Page > 0 {
			fmt.Fprintf(&loc, ", page %d", c.Page)
		}
		if c.Section != "" {
			fmt.Fprintf(&loc, ", section %q", c.Section)
		}
		fmt.Fprintf(stdout, "\n[%d] chunk %d%s, %d chars\n", c.ChunkIndex, c.ChunkID, loc.String(), len(c.Text))
		for _, line := range snippetLines(c.Text, 2) {
			fmt.Fprintf(stdout, "    %s\n", line)
		}
	}

	return nil
}

// formatAge renders a timestamp as a coarse relative age.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatNumber adds thousands separators.
func formatNumber(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatFormats renders the per-format document counts as
// "md (60%), pdf (40%)", largest share first.
func formatFormats(counts map[string]int, total int) string {
	if len(counts) == 0 || total == 0 {
		return "none"
	}

	type formatCount struct {
		name  string
		count int
	}
	list := make([]formatCount, 0, len(counts))
	for name, count := range counts {
		list = append(list, formatCount{name, count})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].name < list[j].name
	})

	parts := make([]string, len(list))
	for i, f := range list {
		pct := int(float64(f.count)/float64(total)*100 + 0.5)
		parts[i] = fmt.Sprintf("%s (%d%%)", f.name, pct)
	}
	return strings.Join(parts, ", ")
}

// normalizeFormat folds extension variants into one format name.
func normalizeFormat(ext string) string {
	switch ext {
	case "markdown":
		return "md"
	case "htm":
		return "html"
	case "":
		return "none"
	default:
		return ext
	}
}

func debugSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return ui.FormatBytes(n)
}

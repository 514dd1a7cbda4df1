package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/config"
	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/output"
	"github.com/pmbstyle/alicerag/internal/search"
	"github.com/pmbstyle/alicerag/internal/store"
)

type searchOptions struct {
	Limit       int
	Format      string
	KeywordOnly bool
	Offline     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Search the index with hybrid retrieval: keyword ranking fused
with semantic similarity.

Examples:
  alicerag search "pruning fruit trees"
  alicerag search -n 10 "backup strategy"
  alicerag search --format json "error handling"
  alicerag search --keyword-only "exact phrase"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&opts.KeywordOnly, "keyword-only", false, "Skip semantic ranking, keyword matches only")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Use static embeddings (no embedding service required)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	if opts.Format != "text" && opts.Format != "json" {
		return fmt.Errorf("unknown format %q (supported: text, json)", opts.Format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !indexExists(cfg.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'alicerag index <path>' to create one", cfg.DataDir)
	}

	out := output.New(cmd.OutOrStdout())
	degraded := false

	results, err := searchWithEngine(ctx, cfg, query, opts)
	if err != nil {
		// A watch daemon or MCP server holds the writer lock. The
		// keyword half reads concurrently through WAL, so serve that
		// instead of failing.
		if alerrors.GetCode(err) != alerrors.ErrCodeStoreLocked {
			return err
		}
		results, err = searchKeywordFallback(ctx, cfg, query, opts.Limit)
		if err != nil {
			return err
		}
		degraded = true
	}

	if opts.Format == "json" {
		return printResultsJSON(cmd, query, results)
	}
	if degraded {
		out.Warning("Index is in use by another process; showing keyword matches only")
		out.Newline()
	}
	printResultsText(out, query, results)
	return nil
}

// searchWithEngine runs a full hybrid search through the engine.
func searchWithEngine(ctx context.Context, cfg *config.Config, query string, opts searchOptions) ([]*search.Result, error) {
	engine, _, cleanup, err := openEngine(ctx, cfg, opts.Offline)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return engine.Search(ctx, search.Request{
		Text:        query,
		TopK:        opts.Limit,
		KeywordOnly: opts.KeywordOnly,
	})
}

// searchKeywordFallback queries the FTS table straight from the
// metadata database, without the writer lock the engine takes. The
// FTS triggers track the chunks table, so this works whichever
// keyword backend the index was built with.
func searchKeywordFallback(ctx context.Context, cfg *config.Config, query string, limit int) ([]*search.Result, error) {
	meta, err := store.NewSQLiteStore(cfg.DataDir, cfg.Search.ExtraStopwords)
	if err != nil {
		return nil, err
	}
	defer func() { _ = meta.Close() }()

	keyword, err := store.NewKeywordIndex(store.KeywordBackendSQLite, meta, cfg.DataDir, cfg.Search.ExtraStopwords)
	if err != nil {
		return nil, err
	}

	retriever := search.NewRetriever(meta, nil, keyword,
		search.WithRRFConstant(cfg.Search.RRFConstant))

	topK := limit
	if topK <= 0 {
		topK = cfg.Search.TopK
	}
	return retriever.Search(ctx, search.Request{Text: query, TopK: topK, KeywordOnly: true})
}

// printResultsText renders results for the terminal.
func printResultsText(out *output.Writer, query string, results []*search.Result) {
	if len(results) == 0 {
		out.Statusf("🔍", "No results for %q", query)
		return
	}

	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()

	for i, r := range results {
		out.Statusf("", "%d. %s (score: %.2f)", i+1, resultLocation(r), r.Score)
		for _, line := range snippetLines(r.Text, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}
}

// resultLocation renders where a result came from: the path plus the
// page for paginated formats or the section heading when one is known.
func resultLocation(r *search.Result) string {
	loc := r.Path
	if r.Page > 0 {
		return fmt.Sprintf("%s p.%d", loc, r.Page)
	}
	if r.Section != "" {
		return fmt.Sprintf("%s § %s", loc, r.Section)
	}
	return loc
}

// snippetLines returns up to n non-blank lines of chunk text, each
// trimmed and capped so one long line cannot flood the terminal.
func snippetLines(text string, n int) []string {
	const maxLineLen = 160

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxLineLen {
			line = line[:maxLineLen] + "..."
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

// searchResultJSON is one result in --format json output.
type searchResultJSON struct {
	Path    string  `json:"path"`
	Title   string  `json:"title,omitempty"`
	Page    int     `json:"page,omitempty"`
	Section string  `json:"section,omitempty"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

func printResultsJSON(cmd *cobra.Command, query string, results []*search.Result) error {
	payload := struct {
		Query   string             `json:"query"`
		Count   int                `json:"count"`
		Results []searchResultJSON `json:"results"`
	}{
		Query:   query,
		Count:   len(results),
		Results: make([]searchResultJSON, 0, len(results)),
	}

	for _, r := range results {
		payload.Results = append(payload.Results, searchResultJSON{
			Path:    r.Path,
			Title:   r.Title,
			Page:    r.Page,
			Section: r.Section,
			Score:   r.Score,
			Text:    r.Text,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

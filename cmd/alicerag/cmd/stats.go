package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/telemetry"
	"github.com/pmbstyle/alicerag/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and query telemetry",
		Long:  `Display index contents, storage footprint, and query patterns.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newStatsQueriesCmd())
	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !indexExists(cfg.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'alicerag index <path>' to create one", cfg.DataDir)
	}

	// Reads only, so no writer lock is taken: this works while serve
	// or watch holds the data directory.
	meta, err := store.NewSQLiteStore(cfg.DataDir, cfg.Search.ExtraStopwords)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = meta.Close() }()

	backend := store.DetectKeywordBackend(cfg.DataDir)
	info, err := store.CollectInfo(ctx, meta, nil, cfg.DataDir, backend)
	if err != nil {
		return err
	}
	if fp, err := store.ReadFingerprint(cfg.DataDir); err == nil {
		info.Vectors = fp.Count
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Index Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Documents:       %d\n", info.Documents)
	fmt.Fprintf(w, "Chunks:          %d\n", info.Chunks)
	fmt.Fprintf(w, "Vectors:         %d\n", info.Vectors)
	fmt.Fprintf(w, "Keyword backend: %s\n", info.KeywordBackend)
	fmt.Fprintf(w, "Health:          %s\n", info.Health)
	fmt.Fprintf(w, "Size on disk:    %s\n", ui.FormatBytes(info.SizeBytes))
	fmt.Fprintf(w, "Data directory:  %s\n", info.DataDir)
	return nil
}

func newStatsQueriesCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show query pattern statistics",
		Long: `Display query pattern telemetry including:
  - Query type distribution (vector/keyword/hybrid)
  - Top query terms
  - Zero-result queries
  - Latency distribution

All telemetry is collected and stored locally; nothing leaves this
machine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsQueries(cmd.Context(), cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

// StatsQueriesOutput is the JSON output format for query stats.
type StatsQueriesOutput struct {
	Summary             StatsQueriesSummary   `json:"summary"`
	QueryTypeCounts     map[string]int64      `json:"query_type_counts"`
	TopTerms            []telemetry.TermCount `json:"top_terms"`
	ZeroResultQueries   []string              `json:"zero_result_queries"`
	LatencyDistribution map[string]int64      `json:"latency_distribution"`
}

// StatsQueriesSummary provides overview statistics.
type StatsQueriesSummary struct {
	Days         int   `json:"days"`
	TotalQueries int64 `json:"total_queries"`
}

func runStatsQueries(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days int) error {
	if days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !indexExists(cfg.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'alicerag index <path>' to create one", cfg.DataDir)
	}

	meta, err := store.NewSQLiteStore(cfg.DataDir, cfg.Search.ExtraStopwords)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = meta.Close() }()

	// The telemetry tables live inside the metadata database, so the
	// metrics store shares its connection.
	metricsStore, err := telemetry.NewSQLiteStore(meta.DB())
	if err != nil {
		return fmt.Errorf("open metrics store: %w", err)
	}

	out, err := collectQueryStats(ctx, metricsStore, days)
	if err != nil {
		return fmt.Errorf("get query stats: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return printQueryStats(cmd, out)
}

func collectQueryStats(ctx context.Context, metricsStore telemetry.Store, days int) (*StatsQueriesOutput, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	to := now.Format("2006-01-02")

	typeCounts, err := metricsStore.GetQueryTypeCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	topTerms, err := metricsStore.GetTopTerms(ctx, 10)
	if err != nil {
		return nil, err
	}
	zeroResults, err := metricsStore.GetZeroResultQueries(ctx, 10)
	if err != nil {
		return nil, err
	}
	latencies, err := metricsStore.GetLatencyCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}

	out := &StatsQueriesOutput{
		Summary:             StatsQueriesSummary{Days: days},
		QueryTypeCounts:     make(map[string]int64, len(typeCounts)),
		TopTerms:            topTerms,
		ZeroResultQueries:   zeroResults,
		LatencyDistribution: make(map[string]int64, len(latencies)),
	}
	for qt, count := range typeCounts {
		out.QueryTypeCounts[string(qt)] = count
		out.Summary.TotalQueries += count
	}
	for bucket, count := range latencies {
		out.LatencyDistribution[string(bucket)] = count
	}
	return out, nil
}

func printQueryStats(cmd *cobra.Command, out *StatsQueriesOutput) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Query Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Period:        last %d days\n", out.Summary.Days)
	fmt.Fprintf(w, "Total Queries: %d\n", out.Summary.TotalQueries)
	fmt.Fprintln(w)

	if len(out.QueryTypeCounts) > 0 {
		fmt.Fprintln(w, "Query Type Distribution:")
		for _, qt := range []string{"hybrid", "vector", "keyword"} {
			if count, ok := out.QueryTypeCounts[qt]; ok {
				fmt.Fprintf(w, "  %s: %d\n", qt, count)
			}
		}
		fmt.Fprintln(w)
	}

	if len(out.TopTerms) > 0 {
		fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range out.TopTerms {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
		fmt.Fprintln(w)
	}

	if len(out.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range out.ZeroResultQueries {
			fmt.Fprintf(w, "  - %q\n", q)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
		fmt.Fprintln(w)
	}

	if len(out.LatencyDistribution) > 0 {
		buckets := []string{"p10", "p50", "p100", "p500", "p1000"}
		labels := map[string]string{
			"p10":   "<10ms",
			"p50":   "10-50ms",
			"p100":  "50-100ms",
			"p500":  "100-500ms",
			"p1000": ">500ms",
		}
		spark := ui.NewSparkline(len(buckets))
		for _, b := range buckets {
			spark.Add(float64(out.LatencyDistribution[b]))
		}
		fmt.Fprintf(w, "Latency Distribution: %s\n", spark.Render())
		for _, b := range buckets {
			if count, ok := out.LatencyDistribution[b]; ok {
				fmt.Fprintf(w, "  %-9s %d\n", labels[b]+":", count)
			}
		}
	}

	return nil
}

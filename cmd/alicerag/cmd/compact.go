package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/ui"
)

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the index and reclaim disk space",
		Long: `Vacuums the metadata database and rebuilds the HNSW vector index
from stored embeddings.

Updates and removals leave dead rows in the database and orphaned
nodes in the vector graph. Compacting reclaims both. The rebuild uses
embeddings stored alongside the chunks, so nothing is re-embedded and
the embedding service does not need to be running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompact(cmd.Context(), cmd)
		},
	}
}

func runCompact(ctx context.Context, cmd *cobra.Command) error {
	// Log to file only, progress goes to stdout.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, logCleanup, err := logging.Setup(logCfg); err == nil {
		defer logCleanup()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !indexExists(cfg.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'alicerag index <path>' to create one", cfg.DataDir)
	}

	stdout := cmd.OutOrStdout()

	sizeBefore := getDirSize(cfg.DataDir)
	vectorsBefore := 0
	if fp, err := store.ReadFingerprint(cfg.DataDir); err == nil {
		vectorsBefore = fp.Count
	}

	fmt.Fprintln(stdout, "Compacting index...")
	start := time.Now()

	engine, cleanup, err := openEngineDetached(ctx, cfg)
	if err != nil {
		return err
	}

	if err := engine.Compact(ctx); err != nil {
		cleanup()
		return fmt.Errorf("compaction failed: %w", err)
	}

	info, err := engine.Stats(ctx)
	if err != nil {
		cleanup()
		return err
	}

	// Close before measuring so the checkpointed WAL counts.
	cleanup()

	elapsed := time.Since(start)
	sizeAfter := getDirSize(cfg.DataDir)

	fmt.Fprintf(stdout, "Compaction complete in %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(stdout, "Documents: %d, chunks: %d\n", info.Documents, info.Chunks)
	fmt.Fprintf(stdout, "Vector count: %d\n", info.Vectors)
	if orphans := vectorsBefore - info.Vectors; orphans > 0 {
		fmt.Fprintf(stdout, "Orphaned vectors removed: %d\n", orphans)
	}
	if sizeBefore > sizeAfter {
		fmt.Fprintf(stdout, "Size on disk: %s -> %s (reclaimed %s)\n",
			ui.FormatBytes(sizeBefore), ui.FormatBytes(sizeAfter), ui.FormatBytes(sizeBefore-sizeAfter))
	} else {
		fmt.Fprintf(stdout, "Size on disk: %s\n", ui.FormatBytes(sizeAfter))
	}

	return nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/embed"
	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/ui"
)

type indexOptions struct {
	Paths     []string
	Plain     bool
	NoColor   bool
	Force     bool
	Offline   bool
	Recursive bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Index documents into the search store",
		Long: `Index files and directories for search.

New and changed files are parsed, chunked, embedded, and stored;
unchanged files are skipped. Without arguments the configured
paths.include entries are indexed, falling back to document
directories discovered under the working directory.

Examples:
  alicerag index ~/notes            # index a directory
  alicerag index README.md docs/    # mix files and directories
  alicerag index --force            # rebuild from scratch
  alicerag index --plain            # line output instead of the TUI`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Paths = args
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "Plain text progress instead of the TUI")
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Clear the index before indexing")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Use static embeddings (no embedding service required)")
	cmd.Flags().BoolVar(&opts.Recursive, "recursive", true, "Descend into subdirectories")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	// The progress renderer owns the terminal, so logs go to file only.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	paths := opts.Paths
	if len(paths) == 0 {
		paths = cfg.Paths.Include
	}
	if len(paths) == 0 {
		paths = config.DiscoverDocumentDirs(".")
	}
	if len(paths) == 0 {
		return fmt.Errorf("nothing to index: pass paths, or set paths.include in the config")
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("path does not exist: %s", p)
		}
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.Plain),
		ui.WithNoColor(opts.NoColor || ui.DetectNoColor()),
		ui.WithRootDir(cfg.DataDir),
	))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	bridge := newUIReporter(renderer)
	tracker := async.NewTracker(cfg.DataDir)

	engine, embedder, cleanup, err := openEngine(ctx, cfg, opts.Offline,
		rag.WithReporter(multiReporter{bridge, tracker}))
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.Force {
		if err := engine.Clear(ctx); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}

	start := time.Now()
	tracker.StartRun()
	report, err := engine.IndexPaths(ctx, paths, rag.IndexOptions{Recursive: opts.Recursive})
	tracker.Done(err)
	if err != nil {
		return err
	}

	chunks := 0
	if info, err := engine.Stats(ctx); err == nil {
		chunks = info.Chunks
	}

	embInfo := embed.GetInfo(ctx, embedder)
	renderer.Complete(ui.CompletionStats{
		Files:    report.Indexed,
		Chunks:   chunks,
		Duration: time.Since(start),
		Stages:   bridge.Timings(),
		Embedder: ui.EmbedderInfo{
			Backend:    string(embInfo.Provider),
			Model:      embInfo.Model,
			Dimensions: embInfo.Dimensions,
		},
	})

	slog.Info("index_done",
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"duration", time.Since(start))
	return nil
}

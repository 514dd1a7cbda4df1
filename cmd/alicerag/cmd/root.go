// Package cmd provides the CLI commands for alicerag.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/preflight"
	"github.com/pmbstyle/alicerag/internal/profiling"
	"github.com/pmbstyle/alicerag/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Global flags
var (
	debugMode      bool
	dataDirFlag    string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the alicerag CLI.
func NewRootCmd() *cobra.Command {
	var offline bool
	var reindex bool
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "alicerag",
		Short: "Local document retrieval engine with hybrid search",
		Long: `AliceRAG indexes your documents (Markdown, PDF, DOCX, HTML, text)
and answers queries with hybrid search: keyword ranking fused with
semantic similarity. Everything runs locally.

Run 'alicerag index <dir>' to build an index and 'alicerag search'
to query it. Running 'alicerag' with no arguments starts the MCP
server on stdio for AI assistants.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), offline, reindex, skipCheck)
		},
	}

	cmd.SetVersionTemplate("alicerag version {{.Version}}\n")

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no embedding service required)")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Reindex configured paths even if an index exists")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory (default ~/.alicerag)")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to the log directory")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newDebugCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug
// logging if the corresponding flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled", "log_file", logging.DefaultLogPath())
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, and writes the
// memory profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault is the zero-argument flow: check the system, make
// sure an index exists, and serve MCP on stdio.
//
// The MCP protocol owns stdout exclusively for JSON-RPC messages, so
// nothing here may write to it. Diagnostics go to the log file; use
// 'alicerag status' or 'alicerag doctor' from another terminal.
func runSmartDefault(ctx context.Context, offline, reindex, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dataDir := cfg.DataDir

	if !skipCheck && preflight.NeedsCheck(dataDir) {
		checker := preflight.New(
			preflight.WithOutput(io.Discard),
			preflight.WithEmbeddings(effectiveProvider(cfg, offline), cfg.Embeddings.Endpoint),
		)
		results := checker.RunAll(ctx, dataDir)

		if preflight.HasCriticalFailures(results) {
			slog.Error("preflight_failed", "hint", "run 'alicerag doctor' for diagnostics")
			return fmt.Errorf("system check failed, run 'alicerag doctor' for details")
		}
		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Debug("preflight_marker_write_failed", "error", err)
		}
	}

	// First run against configured include paths builds the index
	// before serving. With nothing configured the server starts over
	// an empty store and clients index through the index_paths tool.
	needsIndex := reindex || !indexExists(dataDir)
	if needsIndex && len(cfg.Paths.Include) > 0 {
		slog.Info("initial_index", "paths", cfg.Paths.Include)
		if err := runInitialIndex(ctx, cfg, offline); err != nil {
			slog.Error("initial_index_failed", "error", err)
			return fmt.Errorf("indexing failed: %w", err)
		}
	}

	return runServe(ctx, cfg, serveOptions{Transport: "stdio", Offline: offline})
}

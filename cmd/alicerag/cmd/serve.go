package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/mcp"
	"github.com/pmbstyle/alicerag/internal/rag"
)

// serveOptions configures one serve run.
type serveOptions struct {
	Transport string
	Offline   bool
}

func newServeCmd() *cobra.Command {
	var transport string
	var offline bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the Model Context Protocol server over stdio.

The server exposes search_docs, index_paths, remove_paths,
clear_index, and get_stats as tools, and every indexed document as a
doc:// resource. Stdout carries the protocol exclusively; logs go to
the log directory.

Examples:
  alicerag serve                 # for MCP clients (stdio)
  alicerag --debug serve         # with debug logging
  alicerag serve --offline       # static embeddings, no service`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, serveOptions{
				Transport: transport,
				Offline:   offline,
			})
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to serve on (only stdio)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no embedding service required)")

	return cmd
}

// runServe starts the MCP server and blocks until the context is
// canceled or the client disconnects. Nothing is written to stdout
// except protocol messages.
func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	if cleanup, err := logging.SetupMCPMode(level); err == nil {
		defer cleanup()
	}

	if err := verifyStdinForMCP(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		slog.Warn("stdin_not_pipe", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := async.NewTracker(cfg.DataDir)
	engine, embedder, cleanup, err := openEngine(ctx, cfg, opts.Offline, rag.WithReporter(tracker))
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := mcp.NewServer(engine, embedder, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = server.Close() }()

	server.SetTracker(tracker)

	if metrics, err := engine.EnableQueryMetrics(); err != nil {
		slog.Warn("query_metrics_unavailable", "error", err)
	} else {
		server.SetMetrics(metrics)
	}

	if err := server.RegisterResources(ctx); err != nil {
		slog.Warn("resource_registration_failed", "error", err)
	}

	// Reconciling configured paths can take a while on large trees,
	// and the MCP handshake has to answer promptly, so it runs behind
	// the serving loop.
	if len(cfg.Paths.Include) > 0 {
		go func() {
			tracker.StartRun()
			report, err := engine.ReconcileOnStartup(ctx, cfg.Paths.Include)
			tracker.Done(err)
			if err != nil {
				slog.Warn("startup_reconcile_failed", "error", err)
				return
			}
			slog.Info("startup_reconcile_done",
				"indexed", report.Indexed,
				"skipped", report.Skipped,
				"removed", report.Removed)
		}()
	}

	return server.Serve(ctx, opts.Transport)
}

// verifyStdinForMCP reports an error when stdin is a terminal. The
// stdio transport expects a pipe from an MCP client; running serve
// interactively just blocks with no way to type protocol frames.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdin is a terminal, not a pipe: this command is meant to be launched by an MCP client (try 'alicerag search' for interactive queries)")
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/output"
)

func newClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all indexed documents",
		Long: `Deletes every document, chunk, vector, and keyword entry from the
index. The configuration and query statistics are kept.

This cannot be undone. Re-run 'alicerag index' afterwards to rebuild.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.Context(), cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear without prompting")

	return cmd
}

func runClear(ctx context.Context, cmd *cobra.Command, force bool) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if !indexExists(cfg.DataDir) {
		out.Status("", "No index found, nothing to clear")
		return nil
	}

	// Clearing never embeds, so the engine opens without probing the
	// embedding service.
	engine, cleanup, err := openEngineDetached(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := engine.Stats(ctx)
	if err != nil {
		return err
	}
	if info.Documents == 0 {
		out.Status("", "Index is already empty")
		return nil
	}

	if !force {
		return fmt.Errorf("this deletes all %d indexed documents (%d chunks): re-run with --force to confirm", info.Documents, info.Chunks)
	}

	if err := engine.Clear(ctx); err != nil {
		return err
	}

	out.Successf("Cleared index: %d documents, %d chunks removed", info.Documents, info.Chunks)
	slog.Info("index_cleared",
		slog.Int("documents", info.Documents),
		slog.Int("chunks", info.Chunks))
	return nil
}

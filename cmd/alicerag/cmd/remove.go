package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/output"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <paths...>",
		Short: "Remove documents from the index",
		Long: `Remove files or whole directories from the index. The files
themselves are untouched; only their index entries go away.

Examples:
  alicerag remove ~/notes/draft.md
  alicerag remove ~/old-project/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args)
		},
	}
}

func runRemove(ctx context.Context, cmd *cobra.Command, paths []string) error {
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
	if !indexExists(cfg.DataDir) {
		out := output.New(cmd.OutOrStdout())
		out.Status("", "No index found, nothing to remove")
		return nil
	}

	// Removal never embeds, so the engine opens without probing the
	// embedding service.
	engine, cleanup, err := openEngineDetached(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := engine.RemovePaths(ctx, paths)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if report.Removed == 0 {
		out.Status("", "No indexed documents matched")
		return nil
	}
	out.Successf("Removed %d documents", report.Removed)
	return nil
}

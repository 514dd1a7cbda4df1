package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/daemon"
	"github.com/pmbstyle/alicerag/internal/logging"
	"github.com/pmbstyle/alicerag/internal/output"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/watcher"
)

// watchIdleCompactAfter is how long the watched tree has to stay quiet
// before the daemon compacts the store.
const watchIdleCompactAfter = 30 * time.Minute

func newWatchCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Keep the index in sync with filesystem changes",
		Long: `Watch directories and re-index documents as they change.

The watcher runs as a background daemon by default. It debounces
filesystem events, applies changes incrementally, and compacts the
store when the tree has been quiet for a while.

Without arguments, the configured paths.include directories are
watched.

Commands:
  watch            Start watching (background by default)
  watch stop       Stop the running watcher
  watch status     Show watcher status and sync progress
  watch resync     Ask the watcher for a full reconcile pass

Examples:
  alicerag watch ~/Documents/notes   # Watch a directory
  alicerag watch -f                  # Run in foreground (for debugging)
  alicerag watch status              # Check if the watcher is running
  alicerag watch stop                # Stop the watcher`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchStart(cmd.Context(), cmd, args, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")

	cmd.AddCommand(newWatchStopCmd())
	cmd.AddCommand(newWatchStatusCmd())
	cmd.AddCommand(newWatchResyncCmd())

	return cmd
}

func newWatchStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchStop(cmd.Context(), cmd)
		},
	}
}

func newWatchStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show watcher status",
		Long: `Show the current status of the watch daemon.

Displays whether the watcher is running, its process ID, uptime, the
watched roots, and the state of the last sync pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newWatchResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync [paths...]",
		Short: "Ask the watcher for a reconcile pass",
		Long: `Tell the running watcher to reconcile the index against the
filesystem. Without arguments every watched root is reconciled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchResync(cmd.Context(), cmd, args)
		},
	}
}

func runWatchStart(ctx context.Context, cmd *cobra.Command, args []string, foreground bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	roots, err := resolveWatchRoots(cfg, args)
	if err != nil {
		return err
	}

	control := daemon.DefaultConfig(cfg.DataDir)
	client := daemon.NewClient(control)
	if client.IsRunning() {
		out.Status("", "Watch daemon is already running")
		return nil
	}

	if foreground {
		return runWatchForeground(ctx, out, cfg, control, roots)
	}

	out.Status("", "Starting watch daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	argv := []string{"watch", "--foreground"}
	if dataDirFlag != "" {
		argv = append(argv, "--data-dir", dataDirFlag)
	}
	argv = append(argv, roots...)

	bgCmd := exec.Command(execPath, argv...)
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("start watch daemon: %w", err)
	}

	// Reap the child when it eventually exits, and catch it dying
	// during startup.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("watch daemon exited during startup: %w", err)
			}
			return fmt.Errorf("watch daemon exited during startup")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Successf("Watch daemon started (pid: %d)", bgCmd.Process.Pid)
			out.Statusf("", "Logs: %s", logging.DefaultLogPath())
			return nil
		}
	}

	return fmt.Errorf("watch daemon failed to start within timeout, check %s", logging.DefaultLogPath())
}

func runWatchForeground(ctx context.Context, out *output.Writer, cfg *config.Config, control daemon.Config, roots []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = true
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	out.Status("", "Starting watch daemon in foreground...")
	out.Statusf("", "Socket: %s", control.SocketPath)
	out.Statusf("", "Logs: %s", logging.DefaultLogPath())
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	tracker := async.NewTracker(cfg.DataDir)
	engine, _, cleanup, err := openEngine(ctx, cfg, false, rag.WithReporter(tracker))
	if err != nil {
		return err
	}
	defer cleanup()

	watchOpts := watcher.DefaultOptions()
	watchOpts.DebounceWindow = config.DurationOr(cfg.Watch.Debounce, watchOpts.DebounceWindow)
	watchOpts.IgnorePatterns = cfg.Paths.Exclude

	supervisor, err := daemon.NewSupervisor(daemon.SupervisorConfig{
		Engine:           engine,
		Roots:            roots,
		Control:          control,
		Watch:            watchOpts,
		Tracker:          tracker,
		IdleCompactAfter: watchIdleCompactAfter,
	})
	if err != nil {
		return err
	}

	slog.Info("watch_starting",
		slog.String("socket", control.SocketPath),
		slog.Any("roots", roots))

	return supervisor.Run(ctx)
}

// resolveWatchRoots picks the directories to watch: the arguments, or
// the configured include paths.
func resolveWatchRoots(cfg *config.Config, args []string) ([]string, error) {
	paths := args
	if len(paths) == 0 {
		paths = cfg.Paths.Include
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("nothing to watch: pass paths, or set paths.include in the config")
	}

	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve path %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("path does not exist: %s", abs)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("watch roots must be directories: %s", abs)
		}
		roots = append(roots, abs)
	}
	return roots, nil
}

func runWatchStop(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	control := daemon.DefaultConfig(cfg.DataDir)
	client := daemon.NewClient(control)
	pidFile := daemon.NewPIDFile(control.PIDPath)

	if !client.IsRunning() && !pidFile.IsRunning() {
		out.Status("", "Watch daemon is not running")
		return nil
	}

	// Prefer the control socket; fall back to signals when the daemon
	// no longer answers.
	if client.IsRunning() {
		if err := client.StopAndWait(ctx); err == nil {
			out.Success("Watch daemon stopped")
			return nil
		}
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("read watch daemon pid: %w", err)
	}
	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop watch daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Watch daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Status("", "Watch daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill watch daemon: %w", err)
	}
	out.Success("Watch daemon killed")
	return nil
}

func runWatchStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	control := daemon.DefaultConfig(cfg.DataDir)
	client := daemon.NewClient(control)

	if !client.IsRunning() {
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(daemon.StatusResult{Running: false})
		}
		out.Status("", "Watch daemon is not running")
		out.Status("", "Run 'alicerag watch' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("get watch daemon status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Status("", "Watch daemon is running")
	out.Statusf("", "  PID:       %d", status.PID)
	out.Statusf("", "  Uptime:    %s", status.Uptime)
	out.Statusf("", "  Backend:   %s", status.WatchBackend)
	out.Status("", "  Roots:")
	for _, root := range status.Roots {
		out.Statusf("", "    - %s", root)
	}
	out.Statusf("", "  Documents: %d", status.Documents)
	out.Statusf("", "  Chunks:    %d", status.Chunks)
	out.Statusf("", "  Sync:      %s", string(status.Sync.Status))
	if status.DroppedBatches > 0 {
		out.Statusf("", "  Dropped:   %d event batches", status.DroppedBatches)
	}
	out.Statusf("", "  Socket:    %s", control.SocketPath)

	return nil
}

func runWatchResync(ctx context.Context, cmd *cobra.Command, args []string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := daemon.NewClient(daemon.DefaultConfig(cfg.DataDir))

	if !client.IsRunning() {
		return fmt.Errorf("watch daemon is not running, start it with 'alicerag watch'")
	}

	paths := make([]string, 0, len(args))
	for _, p := range args {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve path %s: %w", p, err)
		}
		paths = append(paths, abs)
	}

	result, err := client.Resync(ctx, daemon.ResyncParams{Paths: paths})
	if err != nil {
		return err
	}

	out.Successf("Resync complete: %d indexed, %d skipped, %d removed",
		result.Indexed, result.Skipped, result.Removed)
	return nil
}

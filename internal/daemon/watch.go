package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/watcher"
)

// Engine is the part of the sync engine the watch loop drives.
type Engine interface {
	IndexPaths(ctx context.Context, paths []string, opts rag.IndexOptions) (*index.Report, error)
	RemovePaths(ctx context.Context, paths []string) (*index.RemoveReport, error)
	Reconcile(ctx context.Context, paths []string) (*index.ReconcileReport, error)
	ReconcileOnStartup(ctx context.Context, paths []string) (*index.ReconcileReport, error)
	Compact(ctx context.Context) error
	Stats(ctx context.Context) (*store.StoreInfo, error)
}

var _ Engine = (*rag.Engine)(nil)

// SupervisorConfig wires a Supervisor.
type SupervisorConfig struct {
	// Engine applies the filesystem changes to the index (required).
	Engine Engine

	// Roots are the directories to watch (required, must exist).
	Roots []string

	// Control configures the pidfile and control socket.
	Control Config

	// Watch configures the per-root filesystem watchers.
	Watch watcher.Options

	// Tracker, when set, records each sync pass for the status file.
	Tracker *async.Tracker

	// IdleCompactAfter runs store compaction once the tree has been
	// quiet for this long after mutations. Zero disables it.
	IdleCompactAfter time.Duration
}

// Supervisor runs watch mode: filesystem events stream through
// per-root watchers into one serialized loop that applies them to the
// engine, while a control socket answers status, resync, and stop.
type Supervisor struct {
	engine           Engine
	roots            []string
	control          Config
	watchOpts        watcher.Options
	tracker          *async.Tracker
	idleCompactAfter time.Duration

	mu       sync.Mutex
	started  time.Time
	cancel   context.CancelFunc
	watchers []*watcher.HybridWatcher
	resyncCh chan resyncRequest
}

type rootedBatch struct {
	root   string
	events []watcher.FileEvent
}

type resyncRequest struct {
	paths []string
	reply chan resyncReply
}

type resyncReply struct {
	result ResyncResult
	err    error
}

var _ Handler = (*Supervisor)(nil)

// NewSupervisor creates a watch supervisor over the given roots.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("at least one watch root is required")
	}
	if err := cfg.Control.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(cfg.Roots))
	roots := make([]string, 0, len(cfg.Roots))
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve watch root %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("watch root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("watch root %s is not a directory", abs)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		roots = append(roots, abs)
	}

	return &Supervisor{
		engine:           cfg.Engine,
		roots:            roots,
		control:          cfg.Control,
		watchOpts:        cfg.Watch.WithDefaults(),
		tracker:          cfg.Tracker,
		idleCompactAfter: cfg.IdleCompactAfter,
	}, nil
}

// Roots returns the watched directories.
func (s *Supervisor) Roots() []string {
	return s.roots
}

// Run watches until the context is canceled or a stop request
// arrives. Only one supervisor can run per data directory; a live
// pidfile fails the second one.
func (s *Supervisor) Run(ctx context.Context) error {
	pid := NewPIDFile(s.control.PIDPath)
	if pid.IsRunning() {
		return fmt.Errorf("watch daemon already running (pid file %s)", pid.Path())
	}
	if err := s.control.EnsureDir(); err != nil {
		return err
	}
	if err := pid.Write(); err != nil {
		return err
	}
	defer func() { _ = pid.Remove() }()

	watchers := make([]*watcher.HybridWatcher, 0, len(s.roots))
	for range s.roots {
		w, err := watcher.NewHybridWatcher(s.watchOpts)
		if err != nil {
			for _, prev := range watchers {
				_ = prev.Stop()
			}
			return err
		}
		watchers = append(watchers, w)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make(chan rootedBatch, 16)
	resyncCh := make(chan resyncRequest)

	s.mu.Lock()
	s.started = time.Now()
	s.cancel = cancel
	s.watchers = watchers
	s.resyncCh = resyncCh
	s.mu.Unlock()

	server, err := NewServer(s.control, s)
	if err != nil {
		for _, w := range watchers {
			_ = w.Stop()
		}
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return server.ListenAndServe(gctx) })

	for i := range s.roots {
		root, w := s.roots[i], watchers[i]
		g.Go(func() error {
			if err := w.Start(gctx, root); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			return nil
		})
		g.Go(func() error {
			s.forward(gctx, root, w, batches)
			return nil
		})
	}

	g.Go(func() error { return s.loop(gctx, batches, resyncCh) })

	slog.Info("watch_started",
		"roots", len(s.roots),
		"backend", watchers[0].Backend(),
		"socket", s.control.SocketPath)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	s.mu.Lock()
	s.cancel = nil
	s.resyncCh = nil
	s.mu.Unlock()

	slog.Info("watch_stopped")
	return err
}

// forward moves one watcher's batches and errors into the shared loop.
func (s *Supervisor) forward(ctx context.Context, root string, w *watcher.HybridWatcher, batches chan<- rootedBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			select {
			case batches <- rootedBatch{root: root, events: batch}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("watch_error", "root", root, "error", err)
		}
	}
}

// loop is the single writer driver: startup catch-up, event batches,
// resync requests, and idle compaction all run here, one at a time.
func (s *Supervisor) loop(ctx context.Context, batches <-chan rootedBatch, resyncCh <-chan resyncRequest) error {
	s.initialSync(ctx)

	var compactTimer *time.Timer
	var compactCh <-chan time.Time
	resetCompact := func() {
		if s.idleCompactAfter <= 0 {
			return
		}
		if compactTimer == nil {
			compactTimer = time.NewTimer(s.idleCompactAfter)
			compactCh = compactTimer.C
			return
		}
		if !compactTimer.Stop() {
			select {
			case <-compactTimer.C:
			default:
			}
		}
		compactTimer.Reset(s.idleCompactAfter)
	}
	dirty := false

	for {
		select {
		case <-ctx.Done():
			if compactTimer != nil {
				compactTimer.Stop()
			}
			return ctx.Err()

		case rb := <-batches:
			if s.applyBatch(ctx, rb) {
				dirty = true
				resetCompact()
			}

		case req := <-resyncCh:
			result, err := s.doResync(ctx, req.paths)
			req.reply <- resyncReply{result: result, err: err}
			if err == nil {
				dirty = true
				resetCompact()
			}

		case <-compactCh:
			if dirty {
				s.compact(ctx)
				dirty = false
			}
		}
	}
}

// initialSync catches up on changes made while nothing was watching.
// Failures are logged, not fatal: the watch continues and later events
// retry the work.
func (s *Supervisor) initialSync(ctx context.Context) {
	err := s.trackRun(func() error {
		rep, err := s.engine.ReconcileOnStartup(ctx, s.roots)
		if err != nil {
			return err
		}
		if rep != nil {
			slog.Info("startup_reconcile",
				"indexed", rep.Indexed,
				"removed", rep.Removed)
			return nil
		}
		report, err := s.engine.IndexPaths(ctx, s.roots, rag.IndexOptions{Recursive: true})
		if err != nil {
			return err
		}
		slog.Info("startup_sync", "indexed", report.Indexed, "skipped", report.Skipped)
		return nil
	})
	if err != nil {
		slog.Warn("startup_sync_failed", "error", err)
	}
}

// applyBatch turns one event batch into engine calls. Returns true
// when the index changed.
func (s *Supervisor) applyBatch(ctx context.Context, rb rootedBatch) bool {
	var upserts, removals []string
	reconcile := false
	for _, ev := range rb.events {
		switch ev.Operation {
		case watcher.OpGitignoreChange:
			reconcile = true
		case watcher.OpConfigChange:
			slog.Info("config_changed",
				"root", rb.root,
				"note", "restart watch for a full config reload")
			reconcile = true
		case watcher.OpCreate, watcher.OpModify:
			upserts = append(upserts, filepath.Join(rb.root, ev.Path))
		case watcher.OpDelete, watcher.OpRename:
			// A rename within the root emits a create for the new
			// name; the old one is treated as gone.
			removals = append(removals, filepath.Join(rb.root, ev.Path))
		}
	}

	if reconcile {
		err := s.trackRun(func() error {
			_, err := s.engine.Reconcile(ctx, []string{rb.root})
			return err
		})
		if err != nil {
			slog.Warn("reconcile_failed", "root", rb.root, "error", err)
			return false
		}
		return true
	}

	if len(upserts) == 0 && len(removals) == 0 {
		return false
	}

	err := s.trackRun(func() error {
		if len(removals) > 0 {
			rep, err := s.engine.RemovePaths(ctx, removals)
			if err != nil {
				return err
			}
			slog.Debug("watch_removed", "documents", rep.Removed)
		}
		if len(upserts) > 0 {
			rep, err := s.engine.IndexPaths(ctx, upserts, rag.IndexOptions{Recursive: true})
			if err != nil {
				return err
			}
			slog.Debug("watch_indexed", "indexed", rep.Indexed, "skipped", rep.Skipped)
		}
		return nil
	})
	if err != nil {
		slog.Warn("watch_sync_failed", "root", rb.root, "error", err)
		return false
	}
	return true
}

func (s *Supervisor) doResync(ctx context.Context, paths []string) (ResyncResult, error) {
	if len(paths) == 0 {
		paths = s.roots
	}
	var result ResyncResult
	err := s.trackRun(func() error {
		rep, err := s.engine.Reconcile(ctx, paths)
		if err != nil {
			return err
		}
		result = ResyncResult{Indexed: rep.Indexed, Skipped: rep.Skipped, Removed: rep.Removed}
		return nil
	})
	return result, err
}

func (s *Supervisor) compact(ctx context.Context) {
	slog.Info("idle_compaction_started")
	if err := s.engine.Compact(ctx); err != nil {
		slog.Warn("idle_compaction_failed", "error", err)
		return
	}
	slog.Info("idle_compaction_complete")
}

// trackRun brackets one sync pass with tracker run markers so the
// status file reflects watch activity.
func (s *Supervisor) trackRun(fn func() error) error {
	if s.tracker != nil {
		s.tracker.StartRun()
	}
	err := fn()
	if s.tracker != nil {
		s.tracker.Done(err)
	}
	return err
}

// Status implements Handler.
func (s *Supervisor) Status(ctx context.Context) StatusResult {
	s.mu.Lock()
	started := s.started
	watchers := s.watchers
	s.mu.Unlock()

	result := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(started).Round(time.Second).String(),
		Roots:   s.roots,
	}
	var dropped uint64
	for _, w := range watchers {
		result.WatchBackend = w.Backend()
		dropped += w.DroppedBatches()
	}
	result.DroppedBatches = dropped

	if s.tracker != nil {
		result.Sync = s.tracker.Snapshot()
	}
	if info, err := s.engine.Stats(ctx); err == nil {
		result.Documents = info.Documents
		result.Chunks = info.Chunks
	}
	return result
}

// Resync implements Handler: the request is handed to the loop so it
// serializes with event batches, and the reply carries the outcome.
func (s *Supervisor) Resync(ctx context.Context, params ResyncParams) (ResyncResult, error) {
	s.mu.Lock()
	ch := s.resyncCh
	s.mu.Unlock()
	if ch == nil {
		return ResyncResult{}, fmt.Errorf("watch daemon is not running")
	}

	req := resyncRequest{paths: params.Paths, reply: make(chan resyncReply, 1)}
	select {
	case ch <- req:
	case <-ctx.Done():
		return ResyncResult{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.result, rep.err
	case <-ctx.Done():
		return ResyncResult{}, ctx.Err()
	}
}

// Stop implements Handler.
func (s *Supervisor) Stop() StopResult {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return StopResult{Stopping: true}
}

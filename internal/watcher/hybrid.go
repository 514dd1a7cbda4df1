package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pmbstyle/alicerag/internal/gitignore"
)

// dataDirName is the per-directory data dir, never watched.
const dataDirName = ".alicerag"

// HybridWatcher watches a document root with fsnotify, falling back to
// polling when native events are unavailable. Raw events are filtered
// against gitignore rules and debounced before delivery.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer
	events      chan []FileEvent
	errors      chan error
	stopCh      chan struct{}
	opts        Options

	mu      sync.RWMutex
	ignore  *gitignore.Matcher
	root    string
	stopped bool

	dropped atomic.Uint64
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a watcher with the given options. When the
// kernel watch facility cannot be opened the watcher silently uses
// polling instead.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		ignore:    baseMatcher(opts.IgnorePatterns),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}
	return h, nil
}

// baseMatcher builds the always-on ignore rules.
func baseMatcher(patterns []string) *gitignore.Matcher {
	m := gitignore.New()
	for _, p := range patterns {
		m.AddPattern(p)
	}
	m.AddPattern(dataDirName + "/")
	return m
}

// Start watches root until the context is canceled or Stop is called.
func (h *HybridWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", abs)
	}
	h.mu.Lock()
	h.root = abs
	h.mu.Unlock()

	h.reloadIgnoreRules()

	go h.forwardBatches(ctx)

	if h.useFsnotify {
		return h.runFsnotify(ctx)
	}
	return h.runPolling(ctx)
}

func (h *HybridWatcher) runFsnotify(ctx context.Context) error {
	if err := h.addTree(h.RootPath()); err != nil {
		return fmt.Errorf("watch directory tree: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotify(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.route(event.Path, event.Operation, event.IsDir)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.RootPath())
}

// handleFsnotify converts one fsnotify event and routes it.
func (h *HybridWatcher) handleFsnotify(event fsnotify.Event) {
	root := h.RootPath()
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		rel = event.Name
	}

	isDir := false
	if info, statErr := os.Stat(event.Name); statErr == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New directories need their own watch.
		if isDir && !h.shouldIgnore(rel, true) {
			_ = h.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and unknown bits carry no content change.
		return
	}

	h.route(rel, op, isDir)
}

// route filters one raw event and hands it to the debouncer. Changes
// to .gitignore and to the config file become dedicated operations so
// consumers reconcile instead of indexing the file itself.
func (h *HybridWatcher) route(rel string, op Operation, isDir bool) {
	if h.shouldIgnore(rel, isDir) {
		return
	}

	switch base := filepath.Base(rel); base {
	case ".gitignore":
		h.reloadIgnoreRules()
		op = OpGitignoreChange
		isDir = false
	case dataDirName + ".yaml", dataDirName + ".yml":
		op = OpConfigChange
		isDir = false
	}

	h.debouncer.Add(FileEvent{
		Path:      rel,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// forwardBatches moves debounced batches to the output channel.
func (h *HybridWatcher) forwardBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			h.emitBatch(batch)
		}
	}
}

// addTree registers root and every non-ignored subdirectory with the
// fsnotify watcher.
func (h *HybridWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			return h.fsWatcher.Add(path)
		}
		if h.shouldIgnore(rel, true) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

// shouldIgnore reports whether a relative path is outside the watch
// scope.
func (h *HybridWatcher) shouldIgnore(rel string, isDir bool) bool {
	if rel == "." || rel == "" {
		return true
	}

	first := filepath.ToSlash(rel)
	if i := strings.IndexByte(first, '/'); i >= 0 {
		first = first[:i]
	}
	if first == ".git" || first == dataDirName {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ignore.Match(rel, isDir)
}

// reloadIgnoreRules rebuilds the matcher from the option patterns and
// every .gitignore under the root.
func (h *HybridWatcher) reloadIgnoreRules() {
	root := h.RootPath()
	m := baseMatcher(h.opts.IgnorePatterns)

	rootIgnore := filepath.Join(root, ".gitignore")
	if err := m.AddFromFile(rootIgnore, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("gitignore_unreadable",
			slog.String("path", rootIgnore),
			slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			if rel != "." && (rel == ".git" || rel == dataDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" || path == rootIgnore {
			return nil
		}
		base, _ := filepath.Rel(root, filepath.Dir(path))
		if err := m.AddFromFile(path, filepath.ToSlash(base)); err != nil {
			slog.Warn("gitignore_unreadable",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})

	h.mu.Lock()
	h.ignore = m
	h.mu.Unlock()
}

// emitBatch delivers one batch without blocking. Dropped batches are
// counted; a fallen-behind consumer can resync from a full scan. The
// read lock is held across the send so Stop cannot close the channel
// underneath it.
func (h *HybridWatcher) emitBatch(batch []FileEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.events <- batch:
	default:
		count := h.dropped.Add(1)
		slog.Warn("event_buffer_full",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("dropped_batches", count))
	}
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop halts watching and closes both channels. Safe to call more
// than once.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()
	if h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of debounced event batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of watch errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// DroppedBatches returns how many batches were discarded because the
// consumer fell behind.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.dropped.Load()
}

// Backend reports which mechanism is active, "fsnotify" or "polling".
func (h *HybridWatcher) Backend() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the absolute path being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

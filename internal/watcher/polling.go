package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by rescanning the tree on an interval
// and diffing mtimes and sizes. It is the fallback for filesystems
// where fsnotify cannot deliver events.
type PollingWatcher struct {
	interval time.Duration
	root     string

	mu      sync.Mutex
	prev    map[string]treeEntry
	events  chan FileEvent
	errors  chan error
	stopCh  chan struct{}
	stopped bool
}

type treeEntry struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher with the given interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		prev:     make(map[string]treeEntry),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start polls the given directory until the context is canceled or
// Stop is called. The first scan establishes the baseline and emits
// nothing.
func (p *PollingWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	if info, statErr := os.Stat(abs); statErr != nil {
		return fmt.Errorf("watch root: %w", statErr)
	} else if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", abs)
	}
	p.root = abs

	baseline, err := p.capture()
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.mu.Lock()
	p.prev = baseline
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.diff(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// capture walks the tree and snapshots every entry. Unreadable entries
// are skipped.
func (p *PollingWatcher) capture() (map[string]treeEntry, error) {
	current := make(map[string]treeEntry)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		current[rel] = treeEntry{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", p.root, err)
	}
	return current, nil
}

// diff compares the current tree against the previous snapshot and
// emits create, modify, and delete events.
func (p *PollingWatcher) diff() error {
	current, err := p.capture()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for rel, entry := range current {
		before, existed := p.prev[rel]
		switch {
		case !existed:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, IsDir: entry.isDir, Timestamp: now})
		case before.modTime != entry.modTime || before.size != entry.size:
			p.emit(FileEvent{Path: rel, Operation: OpModify, IsDir: entry.isDir, Timestamp: now})
		}
	}
	for rel, before := range p.prev {
		if _, still := current[rel]; !still {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: before.isDir, Timestamp: now})
		}
	}

	p.prev = current
	return nil
}

// emit sends one event without blocking. Caller holds the lock.
func (p *PollingWatcher) emit(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("polling_buffer_full",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}

// Stop halts polling and closes both channels. Safe to call more than
// once.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of raw file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of scan errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

package watcher

import (
	"context"
	"errors"
	"time"
)

// Operation describes what happened to a path.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename

	// OpGitignoreChange signals that a .gitignore file changed. The
	// event path is the gitignore file, not a document; consumers
	// should reconcile the index against the refreshed rules.
	OpGitignoreChange

	// OpConfigChange signals that the .alicerag.yaml config changed.
	OpConfigChange
)

// String returns a human-readable operation name.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpGitignoreChange:
		return "gitignore_change"
	case OpConfigChange:
		return "config_change"
	default:
		return "unknown"
	}
}

// FileEvent is one observed filesystem change. Path is relative to the
// watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Watcher watches a directory tree and emits debounced event batches.
// Start blocks until the context is canceled or Stop is called.
type Watcher interface {
	Start(ctx context.Context, root string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
}

// Options configures a watcher.
type Options struct {
	// DebounceWindow is how long to wait after the last event on a
	// path before emitting it.
	DebounceWindow time.Duration

	// PollInterval is the scan period of the polling fallback.
	PollInterval time.Duration

	// EventBufferSize is the capacity of the Events channel. Batches
	// are dropped, and counted, when the consumer falls behind.
	EventBufferSize int

	// IgnorePatterns are extra gitignore-style patterns applied on
	// top of any .gitignore files found under the root.
	IgnorePatterns []string
}

// DefaultOptions returns the standard watcher configuration.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// Validate checks that all option values are usable.
func (o Options) Validate() error {
	if o.DebounceWindow <= 0 {
		return errors.New("debounce window must be positive")
	}
	if o.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if o.EventBufferSize <= 0 {
		return errors.New("event buffer size must be positive")
	}
	return nil
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = def.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = def.EventBufferSize
	}
	return o
}

package async

import (
	"context"
	"sync"
)

// IndexFunc is the indexing work a BackgroundIndexer runs. Progress
// flows through the Tracker the engine already reports to, so the
// function only needs the context.
type IndexFunc func(ctx context.Context) error

// BackgroundIndexer runs one indexing pass in a goroutine, so a server
// can answer queries over whatever is already indexed while the rest
// catches up. One indexer runs one pass; create a new one to run
// again.
type BackgroundIndexer struct {
	tracker *Tracker
	fn      IndexFunc

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	running bool
	err     error
}

// NewBackgroundIndexer creates an indexer that reports run boundaries
// on the tracker.
func NewBackgroundIndexer(tracker *Tracker, fn IndexFunc) *BackgroundIndexer {
	return &BackgroundIndexer{
		tracker: tracker,
		fn:      fn,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Tracker returns the progress tracker.
func (b *BackgroundIndexer) Tracker() *Tracker {
	return b.tracker
}

// IsRunning reports whether the pass is still in flight.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start launches the pass and returns immediately. A second call is a
// no-op; use Wait to block for the result.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	b.tracker.StartRun()
	err := b.fn(ctx)
	b.tracker.Done(err)

	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Stop cancels the pass and waits for it to wind down. Safe to call
// when the pass already finished, and safe to call twice.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	if !b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Wait blocks until the pass finishes and returns its error.
func (b *BackgroundIndexer) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundIndexer_RunsToCompletion(t *testing.T) {
	tr := NewTracker("")
	var calls atomic.Int32
	b := NewBackgroundIndexer(tr, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	assert.False(t, b.IsRunning())
	b.Start(context.Background())

	require.NoError(t, b.Wait())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, b.IsRunning())
	assert.Equal(t, StatusReady, tr.Snapshot().Status)
}

func TestBackgroundIndexer_ErrorReachesTrackerAndWait(t *testing.T) {
	tr := NewTracker("")
	boom := errors.New("sync failed")
	b := NewBackgroundIndexer(tr, func(ctx context.Context) error {
		return boom
	})

	b.Start(context.Background())

	assert.ErrorIs(t, b.Wait(), boom)
	snap := tr.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "sync failed", snap.Error)
}

func TestBackgroundIndexer_StartTwiceRunsOnce(t *testing.T) {
	tr := NewTracker("")
	var calls atomic.Int32
	b := NewBackgroundIndexer(tr, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	b.Start(context.Background())
	b.Start(context.Background())

	require.NoError(t, b.Wait())
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackgroundIndexer_StopCancelsRun(t *testing.T) {
	tr := NewTracker("")
	entered := make(chan struct{})
	b := NewBackgroundIndexer(tr, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})

	b.Start(context.Background())
	<-entered
	assert.True(t, b.IsRunning())

	b.Stop()
	assert.False(t, b.IsRunning())
	assert.ErrorIs(t, b.Wait(), context.Canceled)
	assert.Equal(t, StatusError, tr.Snapshot().Status)

	// A second stop after completion is a no-op.
	b.Stop()
}

func TestBackgroundIndexer_ParentCancellation(t *testing.T) {
	tr := NewTracker("")
	entered := make(chan struct{})
	b := NewBackgroundIndexer(tr, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	<-entered
	cancel()

	assert.ErrorIs(t, b.Wait(), context.Canceled)
}

func TestBackgroundIndexer_StopBeforeStart(t *testing.T) {
	b := NewBackgroundIndexer(NewTracker(""), func(ctx context.Context) error {
		return nil
	})

	// Nothing started, nothing to wait for.
	b.Stop()
	assert.False(t, b.IsRunning())
}

package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/watcher"
)

// fakeEngine records every sync call so tests can assert on what the
// supervisor asked for.
type fakeEngine struct {
	mu             sync.Mutex
	indexCalls     [][]string
	removeCalls    [][]string
	reconcileCalls [][]string
	startupCalls   int
	compactCalls   int

	// startupReport is what ReconcileOnStartup returns; nil means
	// "ignore rules unchanged" so the supervisor falls back to a
	// full index pass.
	startupReport   *fakeReport
	reconcileReport index.ReconcileReport
	stats           store.StoreInfo
}

type fakeReport struct {
	indexed, removed int
}

func (f *fakeEngine) IndexPaths(_ context.Context, paths []string, _ rag.IndexOptions) (*index.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls = append(f.indexCalls, slices.Clone(paths))
	return &index.Report{Indexed: len(paths)}, nil
}

func (f *fakeEngine) RemovePaths(_ context.Context, paths []string) (*index.RemoveReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls = append(f.removeCalls, slices.Clone(paths))
	return &index.RemoveReport{Removed: len(paths)}, nil
}

func (f *fakeEngine) Reconcile(_ context.Context, paths []string) (*index.ReconcileReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcileCalls = append(f.reconcileCalls, slices.Clone(paths))
	rep := f.reconcileReport
	return &rep, nil
}

func (f *fakeEngine) ReconcileOnStartup(context.Context, []string) (*index.ReconcileReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startupCalls++
	if f.startupReport == nil {
		return nil, nil
	}
	return &index.ReconcileReport{
		Indexed: f.startupReport.indexed,
		Removed: f.startupReport.removed,
	}, nil
}

func (f *fakeEngine) Compact(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compactCalls++
	return nil
}

func (f *fakeEngine) Stats(context.Context) (*store.StoreInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.stats
	return &info, nil
}

func (f *fakeEngine) indexedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.indexCalls {
		out = append(out, call...)
	}
	return out
}

func (f *fakeEngine) removedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.removeCalls {
		out = append(out, call...)
	}
	return out
}

func (f *fakeEngine) reconciledPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.reconcileCalls {
		out = append(out, call...)
	}
	return out
}

func (f *fakeEngine) startups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startupCalls
}

func (f *fakeEngine) compacts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compactCalls
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

type supervisorKit struct {
	root   string
	engine *fakeEngine
	cfg    Config
	client *Client
	done   chan error
	cancel context.CancelFunc

	waitOnce sync.Once
	runErr   error
}

// wait blocks until Run returns and caches the result so both a test
// body and the cleanup can ask for it.
func (k *supervisorKit) wait() error {
	k.waitOnce.Do(func() {
		select {
		case k.runErr = <-k.done:
		case <-time.After(3 * time.Second):
			k.runErr = fmt.Errorf("supervisor did not shut down")
		}
	})
	return k.runErr
}

// startSupervisor runs a supervisor over one temp root with fast
// watch settings and waits until the control socket answers.
func startSupervisor(t *testing.T, engine *fakeEngine, opts ...func(*SupervisorConfig)) *supervisorKit {
	t.Helper()
	root := t.TempDir()
	cfg := testConfig(t)

	supCfg := SupervisorConfig{
		Engine:  engine,
		Roots:   []string{root},
		Control: cfg,
		Watch: watcher.Options{
			DebounceWindow:  20 * time.Millisecond,
			PollInterval:    50 * time.Millisecond,
			EventBufferSize: 100,
		},
	}
	for _, opt := range opts {
		opt(&supCfg)
	}

	sup, err := NewSupervisor(supCfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	client := NewClient(cfg)
	waitForSocket(t, client)
	time.Sleep(150 * time.Millisecond) // let the watchers settle

	kit := &supervisorKit{
		root:   root,
		engine: engine,
		cfg:    cfg,
		client: client,
		done:   done,
		cancel: cancel,
	}
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, kit.wait())
	})
	return kit
}

func TestNewSupervisor_Validation(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()

	t.Run("missing engine", func(t *testing.T) {
		_, err := NewSupervisor(SupervisorConfig{Roots: []string{root}, Control: cfg})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine")
	})

	t.Run("no roots", func(t *testing.T) {
		_, err := NewSupervisor(SupervisorConfig{Engine: &fakeEngine{}, Control: cfg})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "root")
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := NewSupervisor(SupervisorConfig{
			Engine:  &fakeEngine{},
			Roots:   []string{filepath.Join(root, "nope")},
			Control: cfg,
		})
		require.Error(t, err)
	})

	t.Run("file root", func(t *testing.T) {
		file := filepath.Join(root, "plain.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := NewSupervisor(SupervisorConfig{
			Engine:  &fakeEngine{},
			Roots:   []string{file},
			Control: cfg,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})

	t.Run("duplicate roots collapse", func(t *testing.T) {
		sup, err := NewSupervisor(SupervisorConfig{
			Engine:  &fakeEngine{},
			Roots:   []string{root, root},
			Control: cfg,
		})
		require.NoError(t, err)
		assert.Len(t, sup.Roots(), 1)
	})
}

func TestSupervisor_StartupFallsBackToFullIndex(t *testing.T) {
	// Given ignore rules that have not changed since the last run
	engine := &fakeEngine{}
	kit := startSupervisor(t, engine)

	// Then startup reconciles first and indexes the roots as catch-up
	waitUntil(t, func() bool { return engine.startups() == 1 }, "startup reconcile never ran")
	waitUntil(t, func() bool {
		return slices.Contains(engine.indexedPaths(), kit.root)
	}, "startup index pass never ran")
}

func TestSupervisor_StartupReconcileSkipsFullIndex(t *testing.T) {
	// Given ignore rules that changed while the daemon was down
	engine := &fakeEngine{startupReport: &fakeReport{indexed: 3, removed: 1}}
	startSupervisor(t, engine)

	// Then the reconcile pass is the whole catch-up
	waitUntil(t, func() bool { return engine.startups() == 1 }, "startup reconcile never ran")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, engine.indexedPaths())
}

func TestSupervisor_IndexesCreatedFile(t *testing.T) {
	engine := &fakeEngine{}
	kit := startSupervisor(t, engine)

	// When a document appears under the root
	path := filepath.Join(kit.root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# note"), 0o644))

	// Then the supervisor indexes that path
	waitUntil(t, func() bool {
		return slices.Contains(engine.indexedPaths(), path)
	}, "created file never indexed")
}

func TestSupervisor_RemovesDeletedFile(t *testing.T) {
	engine := &fakeEngine{}
	kit := startSupervisor(t, engine)

	path := filepath.Join(kit.root, "doomed.md")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))
	waitUntil(t, func() bool {
		return slices.Contains(engine.indexedPaths(), path)
	}, "file never indexed")

	// When the document is deleted
	require.NoError(t, os.Remove(path))

	// Then the supervisor removes it from the index
	waitUntil(t, func() bool {
		return slices.Contains(engine.removedPaths(), path)
	}, "deleted file never removed")
}

func TestSupervisor_GitignoreChangeTriggersReconcile(t *testing.T) {
	engine := &fakeEngine{}
	kit := startSupervisor(t, engine)

	// When the root's ignore rules change
	require.NoError(t, os.WriteFile(filepath.Join(kit.root, ".gitignore"), []byte("*.log\n"), 0o644))

	// Then the whole root is reconciled rather than patched
	waitUntil(t, func() bool {
		return slices.Contains(engine.reconciledPaths(), kit.root)
	}, "gitignore change never reconciled")
}

func TestSupervisor_ConfigChangeTriggersReconcile(t *testing.T) {
	engine := &fakeEngine{}
	kit := startSupervisor(t, engine)

	require.NoError(t, os.WriteFile(filepath.Join(kit.root, ".alicerag.yaml"), []byte("search:\n  top_k: 5\n"), 0o644))

	waitUntil(t, func() bool {
		return slices.Contains(engine.reconciledPaths(), kit.root)
	}, "config change never reconciled")
}

func TestSupervisor_ResyncViaSocket(t *testing.T) {
	engine := &fakeEngine{reconcileReport: index.ReconcileReport{Indexed: 2, Skipped: 5, Removed: 1}}
	kit := startSupervisor(t, engine)

	// When a client requests a resync with no explicit paths
	result, err := kit.client.Resync(context.Background(), ResyncParams{})

	// Then every root is reconciled and the report comes back
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 5, result.Skipped)
	assert.Equal(t, 1, result.Removed)
	assert.Contains(t, engine.reconciledPaths(), kit.root)
}

func TestSupervisor_StatusViaSocket(t *testing.T) {
	engine := &fakeEngine{stats: store.StoreInfo{Documents: 12, Chunks: 80}}
	kit := startSupervisor(t, engine)

	status, err := kit.client.Status(context.Background())

	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, []string{kit.root}, status.Roots)
	assert.Contains(t, []string{"fsnotify", "polling"}, status.WatchBackend)
	assert.Equal(t, 12, status.Documents)
	assert.Equal(t, 80, status.Chunks)
}

func TestSupervisor_StopViaSocket(t *testing.T) {
	engine := &fakeEngine{}
	kit := startSupervisor(t, engine)

	// When a client asks the daemon to stop and waits
	require.NoError(t, kit.client.StopAndWait(context.Background()))

	// Then the run loop exits cleanly and the pidfile is gone
	require.NoError(t, kit.wait())
	_, err := os.Stat(kit.cfg.PIDPath)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, kit.client.IsRunning())
}

func TestSupervisor_SecondInstanceRejected(t *testing.T) {
	// Given a pidfile naming a live process
	cfg := testConfig(t)
	require.NoError(t, NewPIDFile(cfg.PIDPath).Write())

	sup, err := NewSupervisor(SupervisorConfig{
		Engine:  &fakeEngine{},
		Roots:   []string{t.TempDir()},
		Control: cfg,
	})
	require.NoError(t, err)

	// When a second supervisor starts against the same data dir
	err = sup.Run(context.Background())

	// Then it refuses instead of fighting over the index
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestSupervisor_IdleCompaction(t *testing.T) {
	// Given a short idle window
	engine := &fakeEngine{}
	kit := startSupervisor(t, engine, func(c *SupervisorConfig) {
		c.IdleCompactAfter = 100 * time.Millisecond
	})

	// When a mutation lands and the tree goes quiet
	path := filepath.Join(kit.root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# note"), 0o644))
	waitUntil(t, func() bool {
		return slices.Contains(engine.indexedPaths(), path)
	}, "file never indexed")

	// Then compaction runs once the idle window passes
	waitUntil(t, func() bool { return engine.compacts() >= 1 }, "idle compaction never ran")
}

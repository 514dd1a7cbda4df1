package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig keeps socket paths under /tmp so they stay inside the
// Unix socket path length limit.
func testConfig(t *testing.T) Config {
	t.Helper()
	base := fmt.Sprintf("/tmp/alicerag-test-%d-%d", os.Getpid(), time.Now().UnixNano())
	cfg := Config{
		SocketPath:    base + ".sock",
		PIDPath:       base + ".pid",
		Timeout:       5 * time.Second,
		ShutdownGrace: 2 * time.Second,
	}
	t.Cleanup(func() {
		_ = os.Remove(cfg.SocketPath)
		_ = os.Remove(cfg.PIDPath)
	})
	return cfg
}

func waitForSocket(t *testing.T, client *Client) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if client.IsRunning() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("control socket never came up")
}

type stubHandler struct {
	mu       sync.Mutex
	status   StatusResult
	resyncFn func(ResyncParams) (ResyncResult, error)
	stops    int
}

func (h *stubHandler) Status(context.Context) StatusResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *stubHandler) Resync(_ context.Context, params ResyncParams) (ResyncResult, error) {
	h.mu.Lock()
	fn := h.resyncFn
	h.mu.Unlock()
	if fn == nil {
		return ResyncResult{}, nil
	}
	return fn(params)
}

func (h *stubHandler) Stop() StopResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return StopResult{Stopping: true}
}

func (h *stubHandler) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

// startServer runs a server over a stub handler and returns a
// connected client. Shutdown happens in cleanup.
func startServer(t *testing.T, handler *stubHandler) (Config, *Client) {
	t.Helper()
	cfg := testConfig(t)

	srv, err := NewServer(cfg, handler)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	client := NewClient(cfg)
	waitForSocket(t, client)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return cfg, client
}

func TestNewServer_Validation(t *testing.T) {
	t.Run("nil handler", func(t *testing.T) {
		_, err := NewServer(testConfig(t), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler")
	})

	t.Run("bad config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SocketPath = ""
		_, err := NewServer(cfg, &stubHandler{})
		require.Error(t, err)
	})
}

func TestServer_Ping(t *testing.T) {
	_, client := startServer(t, &stubHandler{})

	require.NoError(t, client.Ping(context.Background()))
}

func TestServer_Status(t *testing.T) {
	// Given a handler reporting a live daemon
	handler := &stubHandler{status: StatusResult{
		Running:      true,
		PID:          1234,
		Roots:        []string{"/docs"},
		WatchBackend: "fsnotify",
		Documents:    7,
		Chunks:       42,
	}}
	_, client := startServer(t, handler)

	// When the client asks for status
	status, err := client.Status(context.Background())

	// Then the result crosses the socket intact
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 1234, status.PID)
	assert.Equal(t, []string{"/docs"}, status.Roots)
	assert.Equal(t, "fsnotify", status.WatchBackend)
	assert.Equal(t, 7, status.Documents)
	assert.Equal(t, 42, status.Chunks)
}

func TestServer_Resync(t *testing.T) {
	// Given a handler that records the requested paths
	var got ResyncParams
	var mu sync.Mutex
	handler := &stubHandler{resyncFn: func(p ResyncParams) (ResyncResult, error) {
		mu.Lock()
		got = p
		mu.Unlock()
		return ResyncResult{Indexed: 2, Removed: 1}, nil
	}}
	_, client := startServer(t, handler)

	// When the client requests a resync of one path
	result, err := client.Resync(context.Background(), ResyncParams{Paths: []string{"/docs"}})

	// Then the params arrive and the result comes back
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Removed)
	mu.Lock()
	assert.Equal(t, []string{"/docs"}, got.Paths)
	mu.Unlock()
}

func TestServer_Resync_HandlerError(t *testing.T) {
	handler := &stubHandler{resyncFn: func(ResyncParams) (ResyncResult, error) {
		return ResyncResult{}, fmt.Errorf("store locked")
	}}
	_, client := startServer(t, handler)

	_, err := client.Resync(context.Background(), ResyncParams{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "store locked")
}

func TestServer_Resync_InvalidParams(t *testing.T) {
	_, client := startServer(t, &stubHandler{})

	_, err := client.Resync(context.Background(), ResyncParams{Paths: []string{""}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestServer_Stop(t *testing.T) {
	handler := &stubHandler{}
	_, client := startServer(t, handler)

	require.NoError(t, client.Stop(context.Background()))
	assert.Equal(t, 1, handler.stopCount())
}

func TestServer_UnknownMethod(t *testing.T) {
	cfg, _ := startServer(t, &stubHandler{})

	// A raw request with a method the server does not know
	conn, err := net.Dial("unix", cfg.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	req := Request{JSONRPC: "2.0", Method: "bogus", ID: "req-1"}
	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestServer_MalformedRequest(t *testing.T) {
	cfg, _ := startServer(t, &stubHandler{})

	conn, err := net.Dial("unix", cfg.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	// Given a leftover socket file from a crashed daemon
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.SocketPath, []byte{}, 0o644))

	srv, err := NewServer(cfg, &stubHandler{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	// When a client connects
	client := NewClient(cfg)
	waitForSocket(t, client)

	// Then the stale file was replaced by a live socket
	require.NoError(t, client.Ping(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Error("server did not shut down")
	}
}

func TestServer_CloseIdempotent(t *testing.T) {
	srv, err := NewServer(testConfig(t), &stubHandler{})
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}

func TestClient_IsRunning_NoSocket(t *testing.T) {
	client := NewClient(testConfig(t))

	assert.False(t, client.IsRunning())
}

func TestClient_CallWithoutServer(t *testing.T) {
	client := NewClient(testConfig(t))

	err := client.Ping(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to daemon")
}

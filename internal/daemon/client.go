package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client talks to a running daemon over its control socket.
type Client struct {
	socketPath    string
	timeout       time.Duration
	shutdownGrace time.Duration
	requestID     atomic.Uint64
}

// NewClient creates a client for the daemon at cfg.SocketPath.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath:    cfg.SocketPath,
		timeout:       cfg.Timeout,
		shutdownGrace: cfg.ShutdownGrace,
	}
}

// IsRunning reports whether something is accepting on the socket.
func (c *Client) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	if err := c.call(ctx, MethodPing, nil, &result); err != nil {
		return err
	}
	if !result.Pong {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// Status fetches the daemon's status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Resync asks the daemon to reconcile its roots, or just the given
// paths.
func (c *Client) Resync(ctx context.Context, params ResyncParams) (*ResyncResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var result ResyncResult
	if err := c.call(ctx, MethodResync, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop asks the daemon to shut down.
func (c *Client) Stop(ctx context.Context) error {
	var result StopResult
	if err := c.call(ctx, MethodStop, nil, &result); err != nil {
		return err
	}
	if !result.Stopping {
		return fmt.Errorf("daemon refused to stop")
	}
	return nil
}

// StopAndWait stops the daemon and waits until the socket goes away,
// up to the shutdown grace period.
func (c *Client) StopAndWait(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(c.shutdownGrace)
	for time.Now().Before(deadline) {
		if !c.IsRunning() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("daemon still running after %s", c.shutdownGrace)
}

// call runs one request/response exchange on a fresh connection.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      fmt.Sprintf("req-%d", c.requestID.Add(1)),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("receive response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if result == nil {
		return nil
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

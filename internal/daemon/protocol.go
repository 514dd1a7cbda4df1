package daemon

import (
	"fmt"

	"github.com/pmbstyle/alicerag/internal/async"
)

// JSON-RPC 2.0 method names understood by the control socket.
const (
	MethodPing   = "ping"
	MethodStatus = "status"
	MethodResync = "resync"
	MethodStop   = "stop"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeResyncFailed = -32001
	ErrCodeShuttingDown = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse builds a result response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// PingResult answers a liveness probe.
type PingResult struct {
	Pong bool `json:"pong"`
}

// StatusResult describes the running daemon.
type StatusResult struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid"`
	Uptime  string `json:"uptime"`

	// Roots are the directories being watched.
	Roots []string `json:"roots"`

	// WatchBackend is "fsnotify" or "polling".
	WatchBackend string `json:"watch_backend"`

	// DroppedBatches counts event batches lost to backpressure
	// across all watchers.
	DroppedBatches uint64 `json:"dropped_batches"`

	// Sync is the current indexing snapshot.
	Sync async.Snapshot `json:"sync"`

	// Documents and Chunks mirror the store counters.
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// ResyncParams asks for a reconciliation pass.
type ResyncParams struct {
	// Paths limits the pass to these roots. Empty means every
	// watched root.
	Paths []string `json:"paths,omitempty"`
}

// Validate checks the params.
func (p *ResyncParams) Validate() error {
	for _, path := range p.Paths {
		if path == "" {
			return fmt.Errorf("resync path cannot be empty")
		}
	}
	return nil
}

// ResyncResult reports what a reconciliation pass changed.
type ResyncResult struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Removed int `json:"removed"`
}

// StopResult acknowledges a shutdown request.
type StopResult struct {
	Stopping bool `json:"stopping"`
}

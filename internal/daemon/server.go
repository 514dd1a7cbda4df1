package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Handler answers control requests. Implementations must be safe for
// concurrent calls.
type Handler interface {
	Status(ctx context.Context) StatusResult
	Resync(ctx context.Context, params ResyncParams) (ResyncResult, error)

	// Stop initiates shutdown and returns immediately.
	Stop() StopResult
}

// Server answers JSON-RPC requests on a Unix socket, one request per
// connection.
type Server struct {
	socketPath string
	handler    Handler
	timeout    time.Duration

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a control server.
func NewServer(cfg Config, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		socketPath: cfg.SocketPath,
		handler:    handler,
		timeout:    cfg.Timeout,
	}, nil
}

// ListenAndServe accepts connections until the context is canceled or
// Close is called, then drains in-flight requests. Returns nil on a
// clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A previous run that crashed can leave the socket behind.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("control_socket_listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept_failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// Close stops accepting connections. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil
	}
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// handleConnection reads one request, answers it, and hangs up.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("deadline_not_set", "error", err)
	}

	encoder := json.NewEncoder(conn)

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "cannot parse request"))
		return
	}

	_ = encoder.Encode(s.handleRequest(ctx, req))
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.handler.Status(ctx))

	case MethodResync:
		return s.handleResync(ctx, req)

	case MethodStop:
		return NewSuccessResponse(req.ID, s.handler.Stop())

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleResync(ctx context.Context, req Request) Response {
	var params ResyncParams
	if req.Params != nil {
		raw, err := json.Marshal(req.Params)
		if err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, "cannot encode params")
		}
		if err := json.Unmarshal(raw, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, "cannot decode params")
		}
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	result, err := s.handler.Resync(ctx, params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeResyncFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

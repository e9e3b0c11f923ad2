package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// requestTimeout bounds how long a connection may take to send its request.
const requestTimeout = 10 * time.Second

// Handler serves one admin request.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Server is the admin server listening on a Unix socket
type Server struct {
	socketPath string
	listener   net.Listener
	handler    Handler
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(socketPath string, handler Handler) *Server {
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		stopChan:   make(chan struct{}),
	}
}

// Start creates the socket and begins accepting connections
func (s *Server) Start(ctx context.Context) error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove a stale socket from a previous run
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	// Owner and group only: the socket can end anyone's demo session
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("admin socket started", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(ctx, listener)

	return nil
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				slog.Error("failed to accept connection", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
		slog.Warn("failed to set read deadline", "error", err)
	}

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		slog.Error("failed to decode request", "error", err)
		s.sendError(conn, "invalid request format")
		return
	}

	if !req.Type.Valid() {
		slog.Error("invalid request type", "type", sanitizeIPCValue(string(req.Type)))
		s.sendError(conn, "invalid request type")
		return
	}

	slog.Info("admin request received",
		"type", req.Type,
		"tab_id", sanitizeIPCValue(req.TabID),
	)

	resp, err := s.handler(ctx, &req)
	if err != nil {
		slog.Error("handler error", "type", req.Type, "error", err)
		s.sendError(conn, err.Error())
		return
	}

	resp.Type = MessageTypeResponse
	if resp.Status == "" {
		resp.Status = StatusOK
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Error("failed to send response", "error", err)
		return
	}

	slog.Debug("admin response sent", "type", req.Type, "status", resp.Status)
}

func (s *Server) sendError(conn net.Conn, errMsg string) {
	resp := &Response{
		Type:   MessageTypeResponse,
		Status: StatusError,
		Error:  errMsg,
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Error("failed to send error response", "error", err)
	}
}

// Stop closes the listener, waits for open connections and removes the
// socket file. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		slog.Info("stopping admin socket")
		close(s.stopChan)

		s.mu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				slog.Warn("failed to close listener", "error", err)
			}
		}
		s.mu.Unlock()

		s.wg.Wait()

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove socket file", "error", err)
		}

		slog.Info("admin socket stopped")
	})
	return nil
}

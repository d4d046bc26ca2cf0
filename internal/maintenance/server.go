// Package maintenance exposes the console to scripted tooling over TCP.
// Each request is a JSON-RPC 2.0 object on its own line; lines submitted
// here go through the same queue as the local operator's.
package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarm-console/internal/commands"
	"github.com/swarm-console/internal/config"
	"github.com/swarm-console/internal/console"
)

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeLineFailed     = -32000
)

// ErrExitNotAllowed is reported when a remote client sends exit or quit
var ErrExitNotAllowed = errors.New("exit is only valid on the local console")

// Executor runs one console line and writes operator feedback to out
type Executor interface {
	Exec(ctx context.Context, source, line string, out io.Writer) error
}

// Server handles maintenance TCP connections
type Server struct {
	config            config.MaintenanceConfig
	executor          Executor
	registry          *commands.CommandRegistry
	logger            *zap.Logger
	allowed           []*net.IPNet
	listener          net.Listener
	stopChan          chan struct{}
	closeOnce         sync.Once
	closeErr          error
	activeConnections map[string]net.Conn
	connectionsMutex  sync.RWMutex
	connectionSlots   chan struct{}
	connectionTimeout time.Duration
	wg                sync.WaitGroup
}

// Request represents a JSON-RPC request over TCP
type Request struct {
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  []string `json:"params,omitempty"`
	ID      any      `json:"id"`
}

// Response represents a JSON-RPC response over TCP
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

// Error is a JSON-RPC error object. Data carries the operator output of a
// failed exec.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewServer creates a new maintenance server. CIDRs that do not parse are
// logged and skipped.
func NewServer(cfg config.MaintenanceConfig, executor Executor, registry *commands.CommandRegistry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:            cfg,
		executor:          executor,
		registry:          registry,
		logger:            logger,
		stopChan:          make(chan struct{}),
		activeConnections: make(map[string]net.Conn),
		connectionSlots:   make(chan struct{}, 10),
		connectionTimeout: 30 * time.Second,
	}

	for _, cidrStr := range cfg.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidrStr)
		if err != nil {
			logger.Warn("Invalid CIDR in config", zap.String("cidr", cidrStr), zap.Error(err))
			continue
		}
		s.allowed = append(s.allowed, network)
	}
	return s
}

// ListenAndServe accepts connections until ctx is cancelled or Close is
// called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener. It takes ownership of listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.connectionsMutex.Lock()
	select {
	case <-s.stopChan:
		s.connectionsMutex.Unlock()
		return listener.Close()
	default:
	}
	s.listener = listener
	s.connectionsMutex.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("Maintenance server listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				s.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("Failed to accept connection", zap.Error(err))
			continue
		}

		if !s.isAllowedConnection(conn) {
			s.logger.Warn("Rejected connection (not in allowed CIDRs)", zap.Stringer("client", conn.RemoteAddr()))
			conn.Close()
			continue
		}

		select {
		case s.connectionSlots <- struct{}{}:
		default:
			s.logger.Warn("Rejected connection (too many clients)", zap.Stringer("client", conn.RemoteAddr()))
			conn.Close()
			continue
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.connectionSlots }()
			defer s.track(conn, false)
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, active bool) {
	s.connectionsMutex.Lock()
	defer s.connectionsMutex.Unlock()
	key := conn.RemoteAddr().String()
	if active {
		s.activeConnections[key] = conn
	} else {
		delete(s.activeConnections, key)
	}
}

// handleConnection serves requests on one connection until the client
// disconnects or stays idle past the connection timeout.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	source := "maintenance:" + conn.RemoteAddr().String()

	for {
		conn.SetDeadline(time.Now().Add(s.connectionTimeout))

		var req Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debug("Maintenance client idle, closing", zap.String("client", source))
				return
			}
			s.logger.Warn("Failed to decode JSON-RPC request", zap.String("client", source), zap.Error(err))
			s.writeErrorResponse(conn, codeParseError, "Parse error", nil)
			return
		}

		if req.JSONRPC != "2.0" {
			s.writeErrorResponse(conn, codeInvalidRequest, "Invalid Request", req.ID)
			continue
		}

		response := s.processMaintenanceRequest(ctx, source, &req)
		if err := encoder.Encode(response); err != nil {
			s.logger.Warn("Failed to encode response", zap.String("client", source), zap.Error(err))
			return
		}

		s.logger.Debug("Maintenance request processed",
			zap.String("method", req.Method),
			zap.String("client", source))
	}
}

// processMaintenanceRequest runs one request against the console
func (s *Server) processMaintenanceRequest(ctx context.Context, source string, req *Request) *Response {
	switch req.Method {
	case "exec":
		if len(req.Params) != 1 {
			return errorResponse(req.ID, codeInvalidParams, "exec takes exactly one line", nil)
		}
		return s.exec(ctx, source, req)
	case "verbs":
		return &Response{
			JSONRPC: "2.0",
			Result:  s.registry.Describe(),
			ID:      req.ID,
		}
	default:
		return errorResponse(req.ID, codeMethodNotFound, "Method not found", nil)
	}
}

func (s *Server) exec(ctx context.Context, source string, req *Request) *Response {
	line := req.Params[0]
	if isExit(line) {
		return errorResponse(req.ID, codeLineFailed, ErrExitNotAllowed.Error(), nil)
	}

	var out bytes.Buffer
	err := s.executor.Exec(ctx, source, line, &out)
	output := splitLines(out.String())

	if errors.Is(err, console.ErrStop) {
		return errorResponse(req.ID, codeLineFailed, ErrExitNotAllowed.Error(), output)
	}
	if err != nil {
		return errorResponse(req.ID, codeLineFailed, err.Error(), output)
	}
	return &Response{
		JSONRPC: "2.0",
		Result:  output,
		ID:      req.ID,
	}
}

// isAllowedConnection checks if the connection is from an allowed CIDR
func (s *Server) isAllowedConnection(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}

	clientIP := net.ParseIP(host)
	if clientIP == nil {
		return false
	}

	for _, network := range s.allowed {
		if network.Contains(clientIP) {
			return true
		}
	}
	return false
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(conn net.Conn, code int, message string, id any) {
	if err := json.NewEncoder(conn).Encode(errorResponse(id, code, message, nil)); err != nil {
		s.logger.Debug("Failed to write error response", zap.Error(err))
	}
}

// Close stops accepting connections and closes the active ones. It is safe
// to call more than once and from several goroutines.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.connectionsMutex.Lock()
		defer s.connectionsMutex.Unlock()
		close(s.stopChan)
		for _, conn := range s.activeConnections {
			conn.Close()
		}
		if s.listener != nil {
			s.closeErr = s.listener.Close()
		}
	})
	return s.closeErr
}

func errorResponse(id any, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

func isExit(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(fields[0])
	return first == "exit" || first == "quit"
}

// splitLines turns captured operator output into a JSON array, never null
func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

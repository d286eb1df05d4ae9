package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ironsheep/face-overlay-mcp/internal/session"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "face-overlay-mcp"
)

// Server handles MCP protocol communication
type Server struct {
	session *session.Session
	logger  *zap.Logger
	version string

	writeMu sync.Mutex
	encoder *json.Encoder

	mu       sync.Mutex
	inflight map[string]*call
	wg       sync.WaitGroup
}

// call is a tools/call request being executed.
type call struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool // by notifications/cancelled
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPNotification represents an outgoing notification (no ID)
type MCPNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// cancelledParams are the params of notifications/cancelled.
type cancelledParams struct {
	RequestID interface{} `json:"requestId"`
	Reason    string      `json:"reason,omitempty"`
}

// New creates a server exposing sess. The session is owned by the caller.
func New(sess *session.Session, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		session:  sess,
		logger:   logger,
		version:  version,
		inflight: make(map[string]*call),
	}
}

// Run reads requests from r and writes responses to w until r is exhausted or
// ctx ends. Tool calls run concurrently. At the end of r Run waits for the
// calls still running; when ctx ends it cancels them first.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	s.encoder = json.NewEncoder(w)

	scanner := bufio.NewScanner(r)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				s.wg.Wait()
				if err := <-scanErr; err != nil {
					return fmt.Errorf("scanner error: %w", err)
				}
				s.logger.Debug("input closed")
				return nil
			}
			s.dispatch(ctx, line)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}

	var req MCPRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("failed to parse request", zap.Error(err))
		return
	}
	s.logger.Debug("request", zap.String("method", req.Method), zap.Any("id", req.ID))

	switch req.Method {
	case "tools/call":
		if req.ID == nil {
			s.logger.Warn("tools/call without id ignored")
			return
		}
		s.startCall(ctx, &req)
	case "notifications/cancelled":
		s.handleCancelled(&req)
	default:
		if resp := s.handleRequest(&req); resp != nil {
			s.write(resp)
		}
	}
}

// startCall runs a tools/call request in its own goroutine.
func (s *Server) startCall(ctx context.Context, req *MCPRequest) {
	callCtx, cancel := context.WithCancel(ctx)
	c := &call{cancel: cancel}
	key := idKey(req.ID)

	s.mu.Lock()
	s.inflight[key] = c
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.inflight[key] == c {
				delete(s.inflight, key)
			}
			s.mu.Unlock()
			cancel()
		}()

		resp := s.handleToolsCall(callCtx, req)
		if c.cancelled.Load() {
			// The client no longer expects an answer.
			return
		}
		s.write(resp)
	}()
}

func (s *Server) handleCancelled(req *MCPRequest) {
	var p cancelledParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.RequestID == nil {
		s.logger.Warn("malformed cancellation", zap.ByteString("params", req.Params))
		return
	}

	s.mu.Lock()
	c, ok := s.inflight[idKey(p.RequestID)]
	s.mu.Unlock()
	if !ok {
		return
	}
	c.cancelled.Store(true)
	c.cancel()
	s.logger.Info("request cancelled", zap.Any("id", p.RequestID), zap.String("reason", p.Reason))
}

func (s *Server) write(v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.encoder.Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// idKey normalizes a JSON-RPC id so numeric and string ids can be looked up.
func idKey(id interface{}) string {
	return fmt.Sprintf("%T:%v", id, id)
}

// handleRequest routes the synchronous requests. tools/call goes through
// startCall instead.
func (s *Server) handleRequest(req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		if req.ID == nil {
			// Unknown notification.
			return nil
		}
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    serverName,
				"version": s.version,
			},
		},
	}
}

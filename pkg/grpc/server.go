// Package grpc provides a lightweight JSON-over-TCP RPC framework used by
// the poem query surface and the poemctl client.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// request carries a method name in "Service.Method" form, an id echoed by
// the response, and raw params. Failed calls answer with an error message
// and the HTTP-equivalent status code of the underlying error.
//
// Example server:
//
//	s := grpc.NewServer(5 * time.Second)
//	s.Register("PoemSearch.SearchText", func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var in proto.TextRequest
//	    json.Unmarshal(req, &in)
//	    // ... run the query ...
//	    return &proto.SearchResponse{...}, nil
//	})
//	s.Serve(":9300")
//
// Example client:
//
//	c, _ := grpc.Dial("localhost:9300")
//	var resp proto.SearchResponse
//	c.Call(ctx, "PoemSearch.SearchText", &proto.TextRequest{Field: "author", Pattern: "frost"}, &resp)
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/logger"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response.
type Response struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers map[string]HandlerFunc
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new RPC server. A positive timeout bounds every call.
func NewServer(timeout time.Duration) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		timeout:  timeout,
		logger:   slog.Default().With("component", "rpc-server"),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a handler for the given RPC method name.
// Method names follow the "Service.Method" convention.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Serve listens on addr and accepts connections until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections on ln until Stop is called.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	select {
	case <-s.done:
		return ln.Close()
	default:
	}
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Go(func() { s.handleConn(conn) })
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return // connection closed or read error
		}
		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()

	resp := Response{ID: req.ID}
	if !exists {
		resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		resp.Code = 404
		return resp
	}

	ctx := logger.WithRequestID(context.Background(), "rpc-"+uuid.NewString())
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := handler(ctx, req.Params)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = apperrors.HTTPStatusCode(err)
		if errors.Is(err, context.DeadlineExceeded) {
			resp.Code = 504
		}
		logger.FromContext(ctx).Debug("rpc call failed", "method", req.Method, "error", err)
		return resp
	}
	resp.Data = data
	logger.FromContext(ctx).Debug("rpc call served", "method", req.Method, "latency", time.Since(start))
	return resp
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}

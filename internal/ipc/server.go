package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	// DefaultReadTimeout bounds how long a forwarder may take to send its request line.
	DefaultReadTimeout = 2 * time.Second
	// MaxRequestBytes caps one request line.
	MaxRequestBytes = 64 << 10

	writeTimeout = 2 * time.Second
)

// Handler processes one control request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers one request per forwarder connection.
type Server struct {
	Handler     Handler
	Logger      *slog.Logger
	ReadTimeout time.Duration
}

// Serve accepts unix-socket clients with default settings until ctx is cancelled.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	s := &Server{Handler: handler}
	return s.Serve(ctx, listener)
}

// Serve accepts clients until ctx is cancelled or the listener closes, then
// waits for in-flight requests to be answered.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			s.serveConn(ctx, c)
		}(conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	logger := s.logger()

	req, err := s.readRequest(conn)
	if err != nil {
		logger.Warn("control request rejected", "error", err.Error())
		s.reply(conn, Response{OK: false, Error: err.Error()})
		return
	}

	started := time.Now()
	resp := s.Handler.Handle(ctx, req)
	logger.Debug("control request handled",
		"command", req.Command,
		"ok", resp.OK,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	s.reply(conn, resp)
}

// readRequest reads exactly one newline-terminated JSON request.
func (s *Server) readRequest(conn net.Conn) (Request, error) {
	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Request{}, fmt.Errorf("set read deadline: %w", err)
	}

	reader := bufio.NewReader(io.LimitReader(conn, MaxRequestBytes+1))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > MaxRequestBytes {
			return Request{}, fmt.Errorf("read request: exceeds %d bytes", MaxRequestBytes)
		}
		return Request{}, fmt.Errorf("read request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Command == "" {
		return Request{}, errors.New("decode request: missing command")
	}
	return req, nil
}

func (s *Server) reply(conn net.Conn, resp Response) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.logger().Debug("set write deadline failed", "error", err.Error())
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger().Warn("control reply failed", "error", err.Error())
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

// Package engine talks to the external mpv player over its JSON IPC control socket.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"
)

// RoundTripTimeout bounds every request/reply exchange; unresponsiveness becomes ErrConnectionLost.
const RoundTripTimeout = 750 * time.Millisecond

// Client owns at most one control connection per engine session.
type Client struct {
	logger  *slog.Logger
	timeout time.Duration
	goos    string
	dial    func(ctx context.Context, path string) (net.Conn, error)

	mu    sync.Mutex
	conns map[string]*conn
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the round-trip bound; intended for tests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithGOOS overrides platform detection for control-support checks.
func WithGOOS(goos string) Option {
	return func(c *Client) { c.goos = goos }
}

// NewClient builds an engine client with a fixed round-trip bound.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		logger:  logger,
		timeout: RoundTripTimeout,
		goos:    runtime.GOOS,
		conns:   make(map[string]*conn),
	}
	c.dial = func(ctx context.Context, path string) (net.Conn, error) {
		dialer := net.Dialer{Timeout: c.timeout}
		return dialer.DialContext(ctx, "unix", path)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the engine socket for target and confirms it answers.
func (c *Client) Connect(ctx context.Context, target Target) (Handle, error) {
	if target.SessionID == "" {
		return Handle{}, errors.New("engine target requires a session id")
	}
	if err := supported(target, c.goos); err != nil {
		return Handle{}, err
	}

	c.mu.Lock()
	if _, exists := c.conns[target.SessionID]; exists {
		c.mu.Unlock()
		return Handle{}, fmt.Errorf("engine session %s already connected", target.SessionID)
	}
	c.mu.Unlock()

	nc, err := c.dial(ctx, target.Socket)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: dial %s: %w", ErrEngineUnavailable, target.Socket, err)
	}

	cn := newConn(target.SessionID, nc, c.timeout, c.logger)
	data, err := cn.roundtrip(getProperty(paramLiveness))
	if err != nil {
		_ = nc.Close()
		return Handle{}, fmt.Errorf("%w: handshake: %w", ErrEngineUnavailable, err)
	}
	cn.pid = target.PID
	var pid int
	if json.Unmarshal(data, &pid) == nil && pid > 0 {
		cn.pid = pid
	}

	if _, err := cn.roundtrip(setProperty("volume-max", 200)); err != nil {
		c.logger.Warn("engine volume-max not applied", "session_id", target.SessionID, "error", err.Error())
		if errors.Is(err, ErrConnectionLost) {
			_ = nc.Close()
			return Handle{}, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
		}
	}

	c.mu.Lock()
	if _, exists := c.conns[target.SessionID]; exists {
		c.mu.Unlock()
		_ = nc.Close()
		return Handle{}, fmt.Errorf("engine session %s already connected", target.SessionID)
	}
	c.conns[target.SessionID] = cn
	c.mu.Unlock()

	cn.start()
	c.logger.Info("engine connected", "session_id", target.SessionID, "socket", target.Socket, "pid", cn.pid)
	return Handle{SessionID: target.SessionID}, nil
}

// SetVolume sets the engine volume percent; superseded by later calls for the same session.
func (c *Client) SetVolume(ctx context.Context, h Handle, percent float64) error {
	return c.set(ctx, h, ParamVolume, percent)
}

// SetSpeed sets the engine playback speed factor.
func (c *Client) SetSpeed(ctx context.Context, h Handle, factor float64) error {
	return c.set(ctx, h, ParamSpeed, factor)
}

// SetFilter replaces the engine audio filter chain.
func (c *Client) SetFilter(ctx context.Context, h Handle, af string) error {
	return c.set(ctx, h, ParamFilter, af)
}

func (c *Client) set(ctx context.Context, h Handle, param Param, value any) error {
	cn, err := c.lookup(h)
	if err != nil {
		return err
	}
	_, err = cn.submit(ctx, param, setProperty(param, value))
	return err
}

// Poll reports whether the engine process is still alive and answering.
func (c *Client) Poll(ctx context.Context, h Handle) (Status, error) {
	cn, err := c.lookup(h)
	if err != nil {
		return Status{State: StateClosed}, err
	}

	if !processAlive(cn.pid) {
		cn.shutdown(StateClosed, ErrConnectionLost)
		return Status{State: StateClosed, PID: cn.pid}, nil
	}

	if _, err := cn.submit(ctx, paramLiveness, getProperty(paramLiveness)); err != nil {
		return Status{State: cn.currentState(), PID: cn.pid}, err
	}
	return Status{State: StateReady, PID: cn.pid}, nil
}

// State returns the connection state for h without touching the engine.
func (c *Client) State(h Handle) ConnectionState {
	c.mu.Lock()
	cn, ok := c.conns[h.SessionID]
	c.mu.Unlock()
	if !ok {
		return StateDisconnected
	}
	return cn.currentState()
}

// Close tears down the session connection; the handle is unusable afterwards.
func (c *Client) Close(h Handle) error {
	c.mu.Lock()
	cn, ok := c.conns[h.SessionID]
	delete(c.conns, h.SessionID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	cn.shutdown(StateClosed, ErrSessionClosed)
	<-cn.done
	c.logger.Info("engine session closed", "session_id", h.SessionID)
	return nil
}

func (c *Client) lookup(h Handle) (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cn, ok := c.conns[h.SessionID]
	if !ok {
		return nil, ErrSessionClosed
	}
	return cn, nil
}

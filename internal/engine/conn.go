package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// command is one queued request; later submissions for the same param replace args.
type command struct {
	param   Param
	args    []any
	waiters []chan result
}

type result struct {
	data json.RawMessage
	err  error
}

// conn owns one engine control connection and its single writer goroutine.
type conn struct {
	id      string
	logger  *slog.Logger
	timeout time.Duration

	nc     net.Conn
	reader *bufio.Reader
	nextID int64
	pid    int

	mu      sync.Mutex
	state   ConnectionState
	pending map[Param]*command
	order   []Param

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newConn(id string, nc net.Conn, timeout time.Duration, logger *slog.Logger) *conn {
	return &conn{
		id:      id,
		logger:  logger,
		timeout: timeout,
		nc:      nc,
		reader:  bufio.NewReader(nc),
		state:   StateConnecting,
		pending: make(map[Param]*command),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// currentState returns the connection lifecycle state.
func (c *conn) currentState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// start marks the connection ready and launches the writer loop.
func (c *conn) start() {
	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	go c.run()
}

// submit queues args for param and waits for the value that supersedes or equals it.
func (c *conn) submit(ctx context.Context, param Param, args []any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, stateError(state)
	}

	cmd, ok := c.pending[param]
	if !ok {
		cmd = &command{param: param}
		c.pending[param] = cmd
		c.order = append(c.order, param)
	}
	cmd.args = args
	ch := make(chan result, 1)
	cmd.waiters = append(cmd.waiters, ch)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run drains the queue one request at a time so the engine never sees reordering.
func (c *conn) run() {
	defer close(c.done)
	for {
		cmd, ok := c.next()
		if !ok {
			return
		}

		data, err := c.roundtrip(cmd.args)
		if errors.Is(err, ErrConnectionLost) {
			c.shutdown(StateDegraded, err)
		}
		for _, w := range cmd.waiters {
			w <- result{data: data, err: err}
		}
	}
}

// next blocks until a queued command exists or the connection stops.
func (c *conn) next() (*command, bool) {
	for {
		c.mu.Lock()
		if c.state != StateReady {
			c.mu.Unlock()
			return nil, false
		}
		if len(c.order) > 0 {
			param := c.order[0]
			c.order = c.order[1:]
			cmd := c.pending[param]
			delete(c.pending, param)
			c.mu.Unlock()
			return cmd, true
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.stop:
			return nil, false
		}
	}
}

// shutdown moves the connection to a terminal state and fails queued commands.
func (c *conn) shutdown(state ConnectionState, cause error) {
	c.mu.Lock()
	if c.state == StateClosed || (c.state == StateDegraded && state == StateDegraded) {
		c.mu.Unlock()
		return
	}
	c.state = state
	drained := make([]*command, 0, len(c.order))
	for _, param := range c.order {
		drained = append(drained, c.pending[param])
	}
	c.pending = make(map[Param]*command)
	c.order = nil
	c.mu.Unlock()

	_ = c.nc.Close()
	c.stopOnce.Do(func() { close(c.stop) })

	for _, cmd := range drained {
		for _, w := range cmd.waiters {
			w <- result{err: cause}
		}
	}
}

// roundtrip writes one request and reads until its reply, skipping engine events.
func (c *conn) roundtrip(args []any) (json.RawMessage, error) {
	c.nextID++
	id := c.nextID

	if err := c.nc.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrConnectionLost, err)
	}

	payload, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := c.nc.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: write request: %w", ErrConnectionLost, err)
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: read reply: %w", ErrConnectionLost, err)
		}

		var r reply
		if err := json.Unmarshal(line, &r); err != nil {
			c.logger.Debug("skip undecodable engine line", "session_id", c.id, "error", err.Error())
			continue
		}
		if r.RequestID == nil {
			if r.Event != "" {
				c.logger.Debug("engine event", "session_id", c.id, "event", r.Event)
			}
			continue
		}
		if *r.RequestID != id {
			continue
		}
		if r.Error != "" && r.Error != replySuccess {
			return nil, fmt.Errorf("%w: %v: %s", ErrCommandRejected, args, r.Error)
		}
		return r.Data, nil
	}
}

func stateError(state ConnectionState) error {
	switch state {
	case StateDegraded:
		return ErrConnectionLost
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: state %s", ErrSessionClosed, state)
	}
}

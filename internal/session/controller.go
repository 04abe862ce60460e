// Package session owns the authoritative playback state and keeps the engine in sync with it.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/fsm"
	"github.com/rbright/cadence/internal/playback"
)

// ErrStopped indicates the controller event loop is no longer running.
var ErrStopped = errors.New("playback controller stopped")

const (
	defaultPollInterval = 500 * time.Millisecond
	eventQueueSize      = 256
)

var syncedParams = []engine.Param{engine.ParamVolume, engine.ParamSpeed, engine.ParamFilter}

// Option customizes a Controller.
type Option func(*Controller)

// WithPollInterval sets how often an active engine is checked for liveness.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Controller is the single writer of playback state. Every transition runs on the
// Run goroutine; other goroutines only post events or read snapshots.
type Controller struct {
	logger       *slog.Logger
	engine       Engine
	observer     Observer
	pollInterval time.Duration

	events  chan any
	stopped chan struct{}

	mu   sync.RWMutex
	snap Snapshot

	// owned by the Run goroutine
	runCtx  context.Context
	state   fsm.State
	logical playback.State
	live    *liveSession
}

// liveSession tracks one engine-mediated session as seen by the controller.
type liveSession struct {
	id     string
	target engine.Target
	handle engine.Handle
	ready  bool
	ctx    context.Context
	cancel context.CancelFunc

	acked       EngineValues
	ackKnown    map[engine.Param]bool
	outstanding map[engine.Param]bool
	rejected    map[engine.Param]any
	notified    bool
}

// NewController constructs a controller seeded with the loaded logical state.
func NewController(logger *slog.Logger, eng Engine, observer Observer, initial playback.State, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if eng == nil {
		eng = unavailableEngine{}
	}
	if observer == nil {
		observer = noopObserver{}
	}

	c := &Controller{
		logger:       logger,
		engine:       eng,
		observer:     observer,
		pollInterval: defaultPollInterval,
		events:       make(chan any, eventQueueSize),
		stopped:      make(chan struct{}),
		runCtx:       context.Background(),
		state:        fsm.StateIdle,
		logical:      initial.Normalize(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap = c.buildSnapshot()
	return c
}

// Run processes events until ctx is cancelled, then closes any live session.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.stopped)

	for {
		select {
		case <-ctx.Done():
			if c.live != nil {
				c.endSession("controller shutdown", true)
				c.publish()
			}
			return nil
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		}
	}
}

// Snapshot returns the latest consistent state view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Settle waits until every event posted before the call has been processed.
func (c *Controller) Settle(ctx context.Context) error {
	done := make(chan struct{})
	if !c.post(settleEvent{done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSession binds a new engine session and returns its id.
func (c *Controller) StartSession(target engine.Target) string {
	target.SessionID = uuid.NewString()
	c.post(startEvent{target: target})
	return target.SessionID
}

// EndSession signals that the host stopped playing the current sound.
func (c *Controller) EndSession() {
	c.post(endEvent{reason: "host ended playback"})
}

// SetVolume sets the base volume; out-of-range values are clamped.
func (c *Controller) SetVolume(v int) {
	c.mutate("volume", func(s *playback.State) { s.BaseVolume = v })
}

// SetSpeed sets the playback speed; out-of-range values are clamped.
func (c *Controller) SetSpeed(v float64) {
	c.mutate("speed", func(s *playback.State) { s.Speed = v })
}

// ToggleMute flips mute without touching base volume or boost.
func (c *Controller) ToggleMute() {
	c.mutate("toggle_mute", func(s *playback.State) { s.Muted = !s.Muted })
}

// SetMuted sets mute explicitly.
func (c *Controller) SetMuted(muted bool) {
	c.mutate("mute", func(s *playback.State) { s.Muted = muted })
}

// SetBoost enables or disables the boost multiplier.
func (c *Controller) SetBoost(enabled bool) {
	c.mutate("boost", func(s *playback.State) { s.BoostEnabled = enabled })
}

// SetLoudnorm replaces the loudness-normalization settings.
func (c *Controller) SetLoudnorm(l playback.Loudnorm) {
	c.mutate("loudnorm", func(s *playback.State) { s.Loudnorm = l })
}

func (c *Controller) mutate(name string, apply func(*playback.State)) {
	c.post(mutateEvent{name: name, apply: apply})
}

// post enqueues ev for the loop; it reports false once the loop has stopped.
func (c *Controller) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) publish() {
	next := c.buildSnapshot()

	c.mu.Lock()
	next.Revision = c.snap.Revision
	if next == c.snap {
		c.mu.Unlock()
		return
	}
	next.Revision++
	c.snap = next
	c.mu.Unlock()

	c.observer.StateChanged(next)
}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:    c.state,
		Playback: c.logical,
		Desired:  desiredValues(c.logical),
	}
	if s := c.live; s != nil {
		snap.SessionID = s.id
		snap.Acknowledged = s.acked
		snap.InSync = fsm.Controllable(c.state) && s.ackedAll() && s.acked == snap.Desired
	}
	return snap
}

func (s *liveSession) ackedAll() bool {
	for _, p := range syncedParams {
		if !s.ackKnown[p] {
			return false
		}
	}
	return true
}

// unavailableEngine stands in when no engine client is wired.
type unavailableEngine struct{}

func (unavailableEngine) Connect(context.Context, engine.Target) (engine.Handle, error) {
	return engine.Handle{}, engine.ErrEngineUnavailable
}

func (unavailableEngine) SetVolume(context.Context, engine.Handle, float64) error {
	return engine.ErrSessionClosed
}

func (unavailableEngine) SetSpeed(context.Context, engine.Handle, float64) error {
	return engine.ErrSessionClosed
}

func (unavailableEngine) SetFilter(context.Context, engine.Handle, string) error {
	return engine.ErrSessionClosed
}

func (unavailableEngine) Poll(context.Context, engine.Handle) (engine.Status, error) {
	return engine.Status{State: engine.StateClosed}, engine.ErrSessionClosed
}

func (unavailableEngine) Close(engine.Handle) error {
	return nil
}

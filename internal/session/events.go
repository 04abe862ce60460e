package session

import (
	"context"
	"errors"
	"time"

	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/fsm"
	"github.com/rbright/cadence/internal/playback"
)

type startEvent struct {
	target engine.Target
}

type endEvent struct {
	sessionID string
	reason    string
}

type mutateEvent struct {
	name  string
	apply func(*playback.State)
}

type readyEvent struct {
	sessionID string
	handle    engine.Handle
}

type unavailableEvent struct {
	sessionID string
	err       error
}

type ackEvent struct {
	sessionID string
	param     engine.Param
	value     any
	err       error
}

type lostEvent struct {
	sessionID string
	err       error
}

type settleEvent struct {
	done chan struct{}
}

// handle applies one event; it is only ever called from Run.
func (c *Controller) handle(ev any) {
	switch e := ev.(type) {
	case startEvent:
		c.onStart(e.target)
	case endEvent:
		c.onEnd(e)
	case mutateEvent:
		c.onMutate(e)
	case readyEvent:
		c.onReady(e)
	case unavailableEvent:
		if c.current(e.sessionID) == nil {
			return
		}
		c.degrade(fsm.EventEngineUnavailable, e.err)
	case ackEvent:
		c.onAck(e)
	case lostEvent:
		if c.current(e.sessionID) == nil {
			return
		}
		c.degrade(fsm.EventConnectionLost, e.err)
	case settleEvent:
		close(e.done)
	default:
		c.logger.Error("unknown controller event", "event", ev)
	}
}

// current returns the live session when id still refers to it.
func (c *Controller) current(id string) *liveSession {
	if c.live == nil || c.live.id != id {
		c.logger.Debug("discard stale session event", "session_id", id)
		return nil
	}
	return c.live
}

func (c *Controller) onStart(target engine.Target) {
	if c.live != nil {
		c.endSession("superseded by new session", false)
	}

	next, err := fsm.Transition(c.state, fsm.EventStartSession)
	if err != nil {
		c.logger.Error("start session rejected", "session_id", target.SessionID, "error", err.Error())
		return
	}
	c.state = next

	ctx, cancel := context.WithCancel(c.runCtx)
	s := &liveSession{
		id:          target.SessionID,
		target:      target,
		ctx:         ctx,
		cancel:      cancel,
		ackKnown:    make(map[engine.Param]bool),
		outstanding: make(map[engine.Param]bool),
		rejected:    make(map[engine.Param]any),
	}
	c.live = s
	c.logger.Info("session binding", "session_id", s.id, "socket", target.Socket, "media", target.Media)

	go func() {
		h, err := c.engine.Connect(ctx, target)
		if err != nil {
			c.post(unavailableEvent{sessionID: target.SessionID, err: err})
			return
		}
		if !c.post(readyEvent{sessionID: target.SessionID, handle: h}) {
			_ = c.engine.Close(h)
		}
	}()
}

func (c *Controller) onReady(e readyEvent) {
	s := c.current(e.sessionID)
	if s == nil {
		go func() { _ = c.engine.Close(e.handle) }()
		return
	}

	next, err := fsm.Transition(c.state, fsm.EventEngineReady)
	if err != nil {
		c.logger.Error("engine ready rejected", "session_id", s.id, "error", err.Error())
		return
	}
	c.state = next
	s.handle = e.handle
	s.ready = true
	c.logger.Info("session active", "session_id", s.id)

	// Mutations made while binding were coalesced into logical state; push it once.
	c.sync()
	go c.pollLoop(s.ctx, s.id, s.handle)
}

func (c *Controller) onMutate(e mutateEvent) {
	before := c.logical
	e.apply(&c.logical)
	c.logical = c.logical.Normalize()
	if c.logical == before {
		return
	}

	c.logger.Debug("playback changed",
		"change", e.name,
		"state", c.state,
		"base_volume", c.logical.BaseVolume,
		"effective_volume", c.logical.EffectiveVolume(),
		"speed", c.logical.Speed,
		"muted", c.logical.Muted,
		"boost", c.logical.BoostEnabled,
	)
	c.sync()
}

func (c *Controller) onAck(e ackEvent) {
	s := c.current(e.sessionID)
	if s == nil {
		return
	}
	s.outstanding[e.param] = false

	switch {
	case e.err == nil:
		setParam(&s.acked, e.param, e.value)
		s.ackKnown[e.param] = true
		delete(s.rejected, e.param)
		c.sync()
	case errors.Is(e.err, engine.ErrCommandRejected):
		s.rejected[e.param] = e.value
		c.logger.Warn("engine rejected command", "session_id", s.id, "param", e.param, "value", e.value, "error", e.err.Error())
		c.observer.Notify(Notice{Kind: engine.ErrCommandRejected, SessionID: s.id, Message: e.err.Error()})
		c.sync()
	case errors.Is(e.err, engine.ErrConnectionLost):
		c.degrade(fsm.EventConnectionLost, e.err)
	default:
		c.logger.Debug("engine command abandoned", "session_id", s.id, "param", e.param, "error", e.err.Error())
	}
}

func (c *Controller) onEnd(e endEvent) {
	if c.live == nil {
		return
	}
	if e.sessionID != "" && c.current(e.sessionID) == nil {
		return
	}
	c.endSession(e.reason, false)
}

// endSession returns to idle and releases the engine connection.
func (c *Controller) endSession(reason string, wait bool) {
	s := c.live
	if s == nil {
		return
	}

	next, err := fsm.Transition(c.state, fsm.EventSessionEnd)
	if err != nil {
		c.logger.Error("session end rejected", "session_id", s.id, "error", err.Error())
		next = fsm.StateIdle
	}
	c.state = next
	c.live = nil
	s.cancel()
	c.logger.Info("session ended", "session_id", s.id, "reason", reason)

	if !s.ready {
		return
	}
	closeEngine := func() {
		if err := c.engine.Close(s.handle); err != nil {
			c.logger.Warn("close engine session failed", "session_id", s.id, "error", err.Error())
		}
	}
	if wait {
		closeEngine()
		return
	}
	go closeEngine()
}

// degrade moves the session to Degraded and reports the failure once.
func (c *Controller) degrade(event fsm.Event, cause error) {
	s := c.live
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.logger.Debug("degrade ignored", "state", c.state, "event", event, "error", err.Error())
		return
	}
	c.state = next

	kind := engine.ErrEngineUnavailable
	for _, candidate := range []error{engine.ErrControlUnsupported, engine.ErrConnectionLost, engine.ErrEngineUnavailable} {
		if errors.Is(cause, candidate) {
			kind = candidate
			break
		}
	}

	c.logger.Warn("engine control degraded", "session_id", s.id, "kind", kind.Error(), "error", cause.Error())
	if s.notified {
		return
	}
	s.notified = true
	c.observer.Notify(Notice{Kind: kind, SessionID: s.id, Message: cause.Error()})
}

// sync issues one command per parameter whose desired value is not yet acknowledged.
// A parameter with a command in flight is left alone; its ack re-runs sync with the
// newest value, so intermediate values are superseded rather than queued.
func (c *Controller) sync() {
	s := c.live
	if s == nil || !s.ready || !fsm.Controllable(c.state) {
		return
	}

	want := desiredValues(c.logical)
	for _, p := range syncedParams {
		value := paramValue(want, p)
		if s.outstanding[p] {
			continue
		}
		if s.ackKnown[p] && paramValue(s.acked, p) == value {
			continue
		}
		if rejected, ok := s.rejected[p]; ok && rejected == value {
			continue
		}
		c.send(s, p, value)
	}
}

func (c *Controller) send(s *liveSession, p engine.Param, value any) {
	s.outstanding[p] = true
	ctx, h, id := s.ctx, s.handle, s.id
	c.logger.Debug("engine command", "session_id", id, "param", p, "value", value)

	go func() {
		err := c.apply(ctx, h, p, value)
		c.post(ackEvent{sessionID: id, param: p, value: value, err: err})
	}()
}

func (c *Controller) apply(ctx context.Context, h engine.Handle, p engine.Param, value any) error {
	switch p {
	case engine.ParamVolume:
		return c.engine.SetVolume(ctx, h, float64(value.(int)))
	case engine.ParamSpeed:
		return c.engine.SetSpeed(ctx, h, value.(float64))
	case engine.ParamFilter:
		return c.engine.SetFilter(ctx, h, value.(string))
	default:
		return errors.New("unknown engine parameter " + string(p))
	}
}

// pollLoop watches an active engine until its session context ends.
func (c *Controller) pollLoop(ctx context.Context, id string, h engine.Handle) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	lostReported := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := c.engine.Poll(ctx, h)
		if ctx.Err() != nil {
			return
		}
		if status.Exited() {
			c.post(endEvent{sessionID: id, reason: "engine exited"})
			return
		}
		if errors.Is(err, engine.ErrSessionClosed) {
			return
		}
		if errors.Is(err, engine.ErrConnectionLost) && !lostReported {
			lostReported = true
			c.post(lostEvent{sessionID: id, err: err})
		}
	}
}

func paramValue(v EngineValues, p engine.Param) any {
	switch p {
	case engine.ParamVolume:
		return v.Volume
	case engine.ParamSpeed:
		return v.Speed
	case engine.ParamFilter:
		return v.Filter
	default:
		return nil
	}
}

func setParam(v *EngineValues, p engine.Param, value any) {
	switch p {
	case engine.ParamVolume:
		v.Volume = value.(int)
	case engine.ParamSpeed:
		v.Speed = value.(float64)
	case engine.ParamFilter:
		v.Filter = value.(string)
	}
}

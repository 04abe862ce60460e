// Package dispatch turns raw input events into bounded playback mutations.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/cadence/internal/playback"
	"github.com/rbright/cadence/internal/session"
)

const (
	VolumeStep      = 5
	SpeedStep       = 0.05
	DefaultDebounce = 40 * time.Millisecond

	settleTimeout = 250 * time.Millisecond
)

// Target is the state machine surface the dispatcher drives.
type Target interface {
	Snapshot() session.Snapshot
	Settle(context.Context) error
	SetVolume(int)
	SetSpeed(float64)
	SetMuted(bool)
	ToggleMute()
	SetBoost(bool)
}

// SettingsOpener handles the open_settings shortcut. It never mutates playback state.
type SettingsOpener interface {
	OpenSettings(session.Snapshot)
}

// Feedback reports the outcome of a shortcut adjustment once it is applied.
type Feedback interface {
	Adjusted(Action, session.Snapshot)
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithDebounce sets the shortcut coalescing window.
func WithDebounce(window time.Duration) Option {
	return func(d *Dispatcher) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithSettingsOpener wires the open_settings handler.
func WithSettingsOpener(opener SettingsOpener) Option {
	return func(d *Dispatcher) {
		if opener != nil {
			d.opener = opener
		}
	}
}

// WithFeedback wires the handler told about applied shortcut adjustments.
func WithFeedback(feedback Feedback) Option {
	return func(d *Dispatcher) {
		if feedback != nil {
			d.feedback = feedback
		}
	}
}

type param string

const (
	paramVolume param = "volume"
	paramSpeed  param = "speed"
)

type pendingStep struct {
	action Action
	value  float64
	gen    uint64
	timer  *time.Timer
}

// Dispatcher clamps direct input and coalesces repeated shortcut steps.
type Dispatcher struct {
	logger   *slog.Logger
	target   Target
	keymap   *Keymap
	opener   SettingsOpener
	feedback Feedback
	window   time.Duration

	mu      sync.Mutex
	gen     uint64
	pending map[param]*pendingStep
}

// New constructs a dispatcher over target and keymap.
func New(logger *slog.Logger, target Target, keymap *Keymap, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if keymap == nil {
		keymap, _ = NewKeymap(nil)
	}

	d := &Dispatcher{
		logger:   logger,
		target:   target,
		keymap:   keymap,
		opener:   noopOpener{},
		feedback: noopFeedback{},
		window:   DefaultDebounce,
		pending:  make(map[param]*pendingStep),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Keymap exposes the live shortcut map.
func (d *Dispatcher) Keymap() *Keymap {
	return d.keymap
}

// SetVolume applies a clamped base volume and drops any pending volume step.
func (d *Dispatcher) SetVolume(v int) int {
	v = playback.ClampVolume(v)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked(paramVolume)
	d.applyLocked(paramVolume, float64(v))
	return v
}

// SetSpeed applies a clamped speed and drops any pending speed step.
func (d *Dispatcher) SetSpeed(s float64) float64 {
	s = playback.ClampSpeed(s)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked(paramSpeed)
	d.applyLocked(paramSpeed, s)
	return s
}

// SetBoost enables or disables boost.
func (d *Dispatcher) SetBoost(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target.SetBoost(enabled)
	d.settle()
}

// SetMuted sets mute explicitly.
func (d *Dispatcher) SetMuted(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target.SetMuted(muted)
	d.settle()
}

// ToggleMute flips mute; base volume and boost are untouched.
func (d *Dispatcher) ToggleMute() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target.ToggleMute()
	d.settle()
}

// KeyPressed resolves combo through the keymap and dispatches the bound action.
func (d *Dispatcher) KeyPressed(combo string) (Action, bool) {
	action, ok := d.keymap.Lookup(combo)
	if !ok {
		d.logger.Debug("unbound shortcut", "combo", combo)
		return "", false
	}
	if err := d.ShortcutPressed(action); err != nil {
		d.logger.Error("dispatch shortcut failed", "action", action, "error", err.Error())
		return action, false
	}
	return action, true
}

// ShortcutPressed applies one shortcut press. Volume and speed steps inside the
// debounce window accumulate into a single pending value per parameter.
func (d *Dispatcher) ShortcutPressed(action Action) error {
	switch action {
	case ActionVolumeUp:
		d.step(action, paramVolume, VolumeStep)
	case ActionVolumeDown:
		d.step(action, paramVolume, -VolumeStep)
	case ActionSpeedUp:
		d.step(action, paramSpeed, SpeedStep)
	case ActionSpeedDown:
		d.step(action, paramSpeed, -SpeedStep)
	case ActionToggleMute:
		d.ToggleMute()
		d.feedback.Adjusted(action, d.target.Snapshot())
	case ActionOpenSettings:
		d.opener.OpenSettings(d.target.Snapshot())
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidBinding, action)
	}
	return nil
}

// Bind updates the keymap.
func (d *Dispatcher) Bind(action Action, combo string) error {
	return d.keymap.Bind(action, combo)
}

// Unbind clears the binding for action.
func (d *Dispatcher) Unbind(action Action) {
	d.keymap.Unbind(action)
}

// Flush applies pending steps immediately.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range []param{paramVolume, paramSpeed} {
		step, ok := d.pending[p]
		if !ok {
			continue
		}
		step.timer.Stop()
		delete(d.pending, p)
		d.applyLocked(p, step.value)
	}
}

// Pending reports the coalesced values waiting for the debounce window.
func (d *Dispatcher) Pending() (volume int, speed float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.target.Snapshot()
	volume, speed = snap.Playback.BaseVolume, snap.Playback.Speed
	if step, found := d.pending[paramVolume]; found {
		volume, ok = int(step.value), true
	}
	if step, found := d.pending[paramSpeed]; found {
		speed, ok = step.value, true
	}
	return volume, speed, ok
}

func (d *Dispatcher) step(action Action, p param, delta float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := d.current(p)
	if step, ok := d.pending[p]; ok {
		base = step.value
		step.timer.Stop()
	}
	next := clampParam(p, base+delta)

	d.gen++
	gen := d.gen
	d.pending[p] = &pendingStep{
		action: action,
		value:  next,
		gen:    gen,
		timer:  time.AfterFunc(d.window, func() { d.fire(p, gen) }),
	}
	d.logger.Debug("shortcut step", "param", p, "value", next)
}

func (d *Dispatcher) fire(p param, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	step, ok := d.pending[p]
	if !ok || step.gen != gen {
		return
	}
	delete(d.pending, p)
	d.applyLocked(p, step.value)
	d.feedback.Adjusted(step.action, d.target.Snapshot())
}

func (d *Dispatcher) cancelLocked(p param) {
	if step, ok := d.pending[p]; ok {
		step.timer.Stop()
		delete(d.pending, p)
	}
}

func (d *Dispatcher) applyLocked(p param, value float64) {
	switch p {
	case paramVolume:
		d.target.SetVolume(int(value))
	case paramSpeed:
		d.target.SetSpeed(value)
	}
	d.settle()
}

// settle waits for the state machine to absorb the last mutation so the next
// step reads a current snapshot.
func (d *Dispatcher) settle() {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := d.target.Settle(ctx); err != nil {
		d.logger.Debug("settle playback state", "error", err.Error())
	}
}

func (d *Dispatcher) current(p param) float64 {
	snap := d.target.Snapshot()
	if p == paramVolume {
		return float64(snap.Playback.BaseVolume)
	}
	return snap.Playback.Speed
}

func clampParam(p param, v float64) float64 {
	if p == paramVolume {
		return float64(playback.ClampVolume(int(v)))
	}
	return playback.ClampSpeed(v)
}

type noopOpener struct{}

func (noopOpener) OpenSettings(session.Snapshot) {}

type noopFeedback struct{}

func (noopFeedback) Adjusted(Action, session.Snapshot) {}

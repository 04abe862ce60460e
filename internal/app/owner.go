package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rbright/cadence/internal/config"
	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/ipc"
	"github.com/rbright/cadence/internal/playback"
	"github.com/rbright/cadence/internal/session"
)

const ownerSettleTimeout = time.Second

// controller is the owner-facing subset of session.Controller.
type controller interface {
	dispatch.Target
	StartSession(engine.Target) string
	EndSession()
	SetLoudnorm(playback.Loudnorm)
}

// notifier reports owner-level failures to the user.
type notifier interface {
	Notify(session.Notice)
}

// shortcutRegistrar mirrors keymap changes into a global hotkey daemon.
type shortcutRegistrar interface {
	Register(ctx context.Context, action dispatch.Action, combo string) error
	Unregister(ctx context.Context, combo string) error
}

// owner maps control-socket requests onto the playback core.
type owner struct {
	logger     *slog.Logger
	ctrl       controller
	disp       *dispatch.Dispatcher
	notifier   notifier
	shortcuts  shortcutRegistrar
	configPath string

	mu  sync.Mutex
	cfg config.Config

	// autosaveDelay debounces persistence after playback changes; zero disables it.
	autosaveDelay  time.Duration
	autosaveMu     sync.Mutex
	autosave       *time.Timer
	autosaveClosed bool
	autosaveWG     sync.WaitGroup
}

// Handle implements ipc.Handler.
func (o *owner) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	o.logger.Debug("owner request", "command", req.Command, "value", req.Value, "action", req.Action)

	var (
		message string
		err     error
	)
	switch req.Command {
	case "status":
	case "session-start":
		message, err = o.startSession(req)
	case "session-end":
		o.ctrl.EndSession()
		message = "session ended"
	case "volume":
		message, err = o.setVolume(req.Value)
	case "speed":
		message, err = o.setSpeed(req.Value)
	case "mute":
		message, err = o.setMute(req.Value)
	case "boost":
		message, err = o.setBoost(req.Value)
	case "loudnorm":
		message, err = o.setLoudnorm(req.Value)
	case "press":
		err = o.disp.ShortcutPressed(dispatch.Action(req.Action))
		message = "pressed " + req.Action
	case "key":
		action, ok := o.disp.KeyPressed(req.Value)
		if !ok {
			err = fmt.Errorf("no action bound to %q", req.Value)
		}
		message = string(action)
	case "bind":
		message, err = o.bind(ctx, dispatch.Action(req.Action), req.Value)
	case "unbind":
		message, err = o.unbind(ctx, dispatch.Action(req.Action))
	case "save":
		err = o.save()
		message = "saved " + o.configPath
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unsupported command %q", req.Command)}
	}

	if err == nil && mutatesPlayback(req.Command) {
		o.scheduleAutosave()
	}

	resp := o.respond(ctx)
	if err != nil {
		o.logger.Warn("owner request failed", "command", req.Command, "error", err.Error())
		resp.OK = false
		resp.Error = err.Error()
		return resp
	}
	resp.Message = message
	return resp
}

// respond settles the controller so the reply reflects the request.
func (o *owner) respond(ctx context.Context) ipc.Response {
	settleCtx, cancel := context.WithTimeout(ctx, ownerSettleTimeout)
	defer cancel()
	if err := o.ctrl.Settle(settleCtx); err != nil {
		o.logger.Debug("settle before reply failed", "error", err.Error())
	}

	snap := o.ctrl.Snapshot()
	return ipc.Response{
		OK:       true,
		State:    string(snap.State),
		Playback: playbackView(snap),
		Bindings: bindingsView(o.disp.Keymap()),
	}
}

func (o *owner) startSession(req ipc.Request) (string, error) {
	if req.Session == nil || strings.TrimSpace(req.Session.Socket) == "" {
		return "", errors.New("session-start requires an engine socket")
	}
	id := o.ctrl.StartSession(engine.Target{
		Socket: req.Session.Socket,
		Media:  req.Session.Media,
		PID:    req.Session.PID,
	})
	return "session " + id, nil
}

func (o *owner) setVolume(raw string) (string, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("volume %q is not an integer", raw)
	}
	return fmt.Sprintf("volume %d", o.disp.SetVolume(v)), nil
}

func (o *owner) setSpeed(raw string) (string, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", fmt.Errorf("speed %q is not a number", raw)
	}
	return fmt.Sprintf("speed %.2f", o.disp.SetSpeed(v)), nil
}

func (o *owner) setMute(raw string) (string, error) {
	switch mode := strings.ToLower(strings.TrimSpace(raw)); mode {
	case "", "toggle":
		o.disp.ToggleMute()
	case "on", "off":
		o.disp.SetMuted(mode == "on")
	default:
		return "", fmt.Errorf("mute %q: want on, off, or toggle", raw)
	}
	if o.ctrl.Snapshot().Playback.Muted {
		return "muted", nil
	}
	return "unmuted", nil
}

func (o *owner) setBoost(raw string) (string, error) {
	switch mode := strings.ToLower(strings.TrimSpace(raw)); mode {
	case "", "toggle":
		o.disp.SetBoost(!o.ctrl.Snapshot().Playback.BoostEnabled)
	case "on", "off":
		o.disp.SetBoost(mode == "on")
	default:
		return "", fmt.Errorf("boost %q: want on, off, or toggle", raw)
	}
	if o.ctrl.Snapshot().Playback.BoostEnabled {
		return "boost on", nil
	}
	return "boost off", nil
}

// setLoudnorm accepts on, off, or an integrated loudness target that also enables it.
func (o *owner) setLoudnorm(raw string) (string, error) {
	current := o.ctrl.Snapshot().Playback.Loudnorm
	switch mode := strings.ToLower(strings.TrimSpace(raw)); mode {
	case "on":
		current.Enabled = true
	case "off":
		current.Enabled = false
	default:
		target, err := strconv.Atoi(mode)
		if err != nil {
			return "", fmt.Errorf("loudnorm %q: want on, off, or a target such as -16", raw)
		}
		current.Enabled = true
		current.Integrated = playback.ClampInt(target, playback.MinLoudnormI, playback.MaxLoudnormI)
	}
	o.ctrl.SetLoudnorm(current)
	if !current.Enabled {
		return "loudnorm off", nil
	}
	return fmt.Sprintf("loudnorm I=%d", current.Integrated), nil
}

// bind replaces a shortcut and persists the keymap. A conflict leaves both
// the keymap and the config untouched.
func (o *owner) bind(ctx context.Context, action dispatch.Action, raw string) (string, error) {
	previous := o.disp.Keymap().Bindings()[action]
	if err := o.disp.Bind(action, raw); err != nil {
		if errors.Is(err, dispatch.ErrBindingConflict) {
			o.notifier.Notify(session.Notice{Kind: err, Message: err.Error()})
		}
		return "", err
	}
	combo := o.disp.Keymap().Bindings()[action]

	if o.shortcuts != nil {
		if previous != "" {
			if err := o.shortcuts.Unregister(ctx, previous); err != nil {
				o.logger.Warn("unregister global shortcut failed", "combo", previous, "error", err.Error())
			}
		}
		if combo != "" {
			if err := o.shortcuts.Register(ctx, action, combo); err != nil {
				o.logger.Warn("register global shortcut failed", "combo", combo, "error", err.Error())
			}
		}
	}

	if err := o.save(); err != nil {
		return "", err
	}
	if combo == "" {
		return fmt.Sprintf("%s unbound", action), nil
	}
	return fmt.Sprintf("%s bound to %s", action, combo), nil
}

func (o *owner) unbind(ctx context.Context, action dispatch.Action) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", dispatch.ErrInvalidBinding, action)
	}
	previous := o.disp.Keymap().Bindings()[action]
	o.disp.Unbind(action)
	if o.shortcuts != nil && previous != "" {
		if err := o.shortcuts.Unregister(ctx, previous); err != nil {
			o.logger.Warn("unregister global shortcut failed", "combo", previous, "error", err.Error())
		}
	}
	if err := o.save(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s unbound", action), nil
}

// save flushes pending steps and persists playback parameters and shortcuts.
func (o *owner) save() error {
	o.disp.Flush()
	settleCtx, cancel := context.WithTimeout(context.Background(), ownerSettleTimeout)
	defer cancel()
	_ = o.ctrl.Settle(settleCtx)

	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.cfg.WithPlayback(o.ctrl.Snapshot().Playback)
	next.Shortcuts = config.ShortcutsFrom(o.disp.Keymap().Bindings())
	if err := config.Save(o.configPath, next); err != nil {
		o.logger.Error("save config failed", "path", o.configPath, "error", err.Error())
		o.notifier.Notify(session.Notice{Kind: err, Message: err.Error()})
		return err
	}
	o.cfg = next
	o.logger.Info("config saved", "path", o.configPath)
	return nil
}

func mutatesPlayback(command string) bool {
	switch command {
	case "volume", "speed", "mute", "boost", "loudnorm", "press", "key":
		return true
	default:
		return false
	}
}

// scheduleAutosave restarts the autosave timer.
func (o *owner) scheduleAutosave() {
	if o.autosaveDelay <= 0 {
		return
	}
	o.autosaveMu.Lock()
	defer o.autosaveMu.Unlock()
	if o.autosaveClosed {
		return
	}
	if o.autosave != nil && o.autosave.Stop() {
		o.autosaveWG.Done()
	}
	o.autosaveWG.Add(1)
	o.autosave = time.AfterFunc(o.autosaveDelay, func() {
		defer o.autosaveWG.Done()
		_ = o.saveIfChanged()
	})
}

// closeAutosave cancels a pending autosave and waits for a running one.
func (o *owner) closeAutosave() {
	o.autosaveMu.Lock()
	o.autosaveClosed = true
	if o.autosave != nil && o.autosave.Stop() {
		o.autosaveWG.Done()
	}
	o.autosaveMu.Unlock()
	o.autosaveWG.Wait()
}

// saveIfChanged persists only when playback or shortcuts differ from the last
// saved record.
func (o *owner) saveIfChanged() error {
	o.disp.Flush()
	settleCtx, cancel := context.WithTimeout(context.Background(), ownerSettleTimeout)
	defer cancel()
	_ = o.ctrl.Settle(settleCtx)

	o.mu.Lock()
	next := o.cfg.WithPlayback(o.ctrl.Snapshot().Playback)
	next.Shortcuts = config.ShortcutsFrom(o.disp.Keymap().Bindings())
	unchanged := next == o.cfg
	o.mu.Unlock()
	if unchanged {
		return nil
	}
	return o.save()
}

func playbackView(snap session.Snapshot) *ipc.Playback {
	p := snap.Playback
	return &ipc.Playback{
		SessionID:       snap.SessionID,
		BaseVolume:      p.BaseVolume,
		EffectiveVolume: p.EffectiveVolume(),
		Muted:           p.Muted,
		Speed:           p.Speed,
		BoostEnabled:    p.BoostEnabled,
		BoostFactor:     p.BoostFactor,
		Loudnorm:        p.Loudnorm.Enabled,
		Filter:          p.Filter(),
		InSync:          snap.InSync,
		Revision:        snap.Revision,
	}
}

func bindingsView(keymap *dispatch.Keymap) []ipc.Binding {
	combos := keymap.Bindings()
	help := make(map[string]string, len(combos))
	for _, h := range keymap.Help() {
		help[h.Key] = h.Desc
	}

	out := make([]ipc.Binding, 0, len(dispatch.Actions))
	for _, action := range dispatch.Actions {
		combo := combos[action]
		out = append(out, ipc.Binding{Action: string(action), Combo: combo, Help: help[combo]})
	}
	return out
}

// Package indicator surfaces playback notices and the settings view to the user.
package indicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/fsm"
	"github.com/rbright/cadence/internal/hypr"
	"github.com/rbright/cadence/internal/session"
)

// Backend selects how notifications are shown.
type Backend string

const (
	BackendDesktop Backend = "desktop"
	BackendHypr    Backend = "hypr"
	BackendNone    Backend = "none"
)

const (
	defaultAppName        = "cadence"
	defaultErrorTimeoutMS = 4000
	settingsTimeoutMS     = 3000
	adjustTimeoutMS       = 1500
	dispatchTimeout       = 400 * time.Millisecond
)

// ParseBackend validates a backend name.
func ParseBackend(raw string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(raw))); b {
	case BackendDesktop, BackendHypr, BackendNone:
		return b, nil
	case "":
		return BackendDesktop, nil
	default:
		return "", fmt.Errorf("unknown notify backend %q (want desktop, hypr, or none)", raw)
	}
}

// Options configures a Notifier.
type Options struct {
	Backend        Backend
	AppName        string
	ErrorTimeoutMS int
}

// Notifier implements session.Observer, dispatch.SettingsOpener, and
// dispatch.Feedback. Notices are dispatched asynchronously so the controller
// loop never waits on the desktop.
type Notifier struct {
	opts     Options
	logger   *slog.Logger
	messages messages

	mu                    sync.Mutex
	desktopNotificationID uint32
	lastState             string
	sendMu                sync.Mutex
	inflight              sync.WaitGroup
}

// New creates a notifier.
func New(opts Options, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Backend == "" {
		opts.Backend = BackendDesktop
	}
	if strings.TrimSpace(opts.AppName) == "" {
		opts.AppName = defaultAppName
	}
	if opts.ErrorTimeoutMS <= 0 {
		opts.ErrorTimeoutMS = defaultErrorTimeoutMS
	}
	return &Notifier{
		opts:     opts,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// StateChanged records controller transitions. Leaving the degraded state
// dismisses the notice that announced it.
func (n *Notifier) StateChanged(s session.Snapshot) {
	n.mu.Lock()
	previous := n.lastState
	n.lastState = string(s.State)
	n.mu.Unlock()

	if previous != string(s.State) {
		n.logger.Info("playback state", "state", s.State, "session_id", s.SessionID)
		if previous == string(fsm.StateDegraded) {
			n.Hide()
		}
	}
	n.logger.Debug("playback snapshot",
		"revision", s.Revision,
		"effective_volume", s.EffectiveVolume(),
		"muted", s.Playback.Muted,
		"speed", s.Playback.Speed,
		"boost", s.Playback.BoostEnabled,
		"in_sync", s.InSync,
	)
}

// Notify shows a user-facing error.
func (n *Notifier) Notify(notice session.Notice) {
	text := n.messages.text(notice.Kind)
	n.logger.Warn("user notice", "session_id", notice.SessionID, "text", text, "detail", notice.Message)
	n.dispatch(func(ctx context.Context) error {
		return n.show(ctx, noticeStyle, n.opts.ErrorTimeoutMS, text)
	})
}

// OpenSettings shows the current playback settings.
func (n *Notifier) OpenSettings(s session.Snapshot) {
	text := summary(s)
	n.dispatch(func(ctx context.Context) error {
		return n.show(ctx, settingsStyle, settingsTimeoutMS, text)
	})
}

// Adjusted shows a short replaceable line after a shortcut changes playback.
func (n *Notifier) Adjusted(action dispatch.Action, s session.Snapshot) {
	text, ok := n.messages.adjustment(action, s)
	if !ok {
		return
	}
	n.dispatch(func(ctx context.Context) error {
		return n.show(ctx, settingsStyle, adjustTimeoutMS, text)
	})
}

// Hide dismisses the current notification.
func (n *Notifier) Hide() {
	n.dispatch(n.dismiss)
}

// Wait blocks until queued notifications have been dispatched.
func (n *Notifier) Wait() {
	n.inflight.Wait()
}

// style pairs the hyprctl icon and color with the desktop icon and urgency.
type style struct {
	hyprIcon     int
	hyprColor    string
	desktopIcon  string
	desktopLevel urgency
}

var (
	noticeStyle   = style{hyprIcon: 3, hyprColor: "rgb(f38ba8)", desktopIcon: "dialog-warning", desktopLevel: urgencyCritical}
	settingsStyle = style{hyprIcon: 1, hyprColor: "rgb(89b4fa)", desktopIcon: "audio-volume-high", desktopLevel: urgencyLow}
)

func (n *Notifier) show(ctx context.Context, st style, timeoutMS int, text string) error {
	switch n.opts.Backend {
	case BackendNone:
		return nil
	case BackendHypr:
		return hypr.Notify(ctx, st.hyprIcon, timeoutMS, st.hyprColor, text)
	default:
		return n.notifyDesktop(ctx, st, timeoutMS, text)
	}
}

func (n *Notifier) dismiss(ctx context.Context) error {
	switch n.opts.Backend {
	case BackendNone:
		return nil
	case BackendHypr:
		return hypr.DismissNotify(ctx)
	default:
		return n.dismissDesktop(ctx)
	}
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, st style, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	id, err := desktopNotify(ctx, desktopMessage{
		appName:   n.opts.AppName,
		replaceID: replaceID,
		icon:      st.desktopIcon,
		summary:   n.opts.AppName,
		body:      text,
		urgency:   st.desktopLevel,
		timeoutMS: timeoutMS,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// dispatch runs a notification call off the caller's goroutine with a bounded timeout.
// Calls are serialized so a replace ID is never raced.
func (n *Notifier) dispatch(fn func(context.Context) error) {
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.sendMu.Lock()
		defer n.sendMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			n.logger.Debug("indicator dispatch failed", "backend", n.opts.Backend, "error", err.Error())
		}
	}()
}

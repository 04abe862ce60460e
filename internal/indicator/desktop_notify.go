package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// urgency is the freedesktop "urgency" hint.
type urgency byte

const (
	urgencyLow      urgency = 0
	urgencyCritical urgency = 2
)

// desktopMessage is one freedesktop Notify call.
type desktopMessage struct {
	appName   string
	replaceID uint32
	icon      string
	summary   string
	body      string
	urgency   urgency
	timeoutMS int
}

// args renders the busctl argument list for Notify(susssasa{sv}i).
func (m desktopMessage) args() []string {
	return []string{
		"Notify",
		"susssasa{sv}i",
		m.appName,
		strconv.FormatUint(uint64(m.replaceID), 10),
		m.icon,
		m.summary,
		m.body,
		"0",
		"1", "urgency", "y", strconv.Itoa(int(m.urgency)),
		strconv.Itoa(m.timeoutMS),
	}
}

// desktopNotify sends m and returns the notification ID assigned by the server.
func desktopNotify(ctx context.Context, m desktopMessage) (uint32, error) {
	out, err := busctl(ctx, m.args()...)
	if err != nil {
		return 0, fmt.Errorf("desktop notify failed: %w", err)
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

// desktopDismiss closes a notification by ID.
func desktopDismiss(ctx context.Context, id uint32) error {
	if _, err := busctl(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("desktop dismiss failed: %w", err)
	}
	return nil
}

// busctl calls a method on the user-session notification service.
func busctl(ctx context.Context, method ...string) (string, error) {
	args := append([]string{"--user", "call", notifyService, notifyPath, notifyInterface}, method...)
	out, err := exec.CommandContext(ctx, "busctl", args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, trimmed)
	}
	return trimmed, nil
}

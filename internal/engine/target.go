package engine

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Target identifies the engine instance serving one playback session.
type Target struct {
	SessionID string
	Socket    string
	Media     string
	PID       int
}

// Handle is the only reference callers keep to an engine session.
type Handle struct {
	SessionID string
}

// ConnectionState is the tagged lifecycle of one engine session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateReady        ConnectionState = "ready"
	StateDegraded     ConnectionState = "degraded"
	StateClosed       ConnectionState = "closed"
)

// Status is the result of one liveness poll.
type Status struct {
	State ConnectionState
	PID   int
}

// Exited reports whether the engine process is gone.
func (s Status) Exited() bool {
	return s.State == StateClosed
}

// supported rejects targets that the engine is known to be unable to control.
func supported(t Target, goos string) error {
	if strings.TrimSpace(t.Socket) == "" {
		return fmt.Errorf("%w: no control socket", ErrControlUnsupported)
	}

	media := strings.TrimSpace(t.Media)
	if media == "" {
		return nil
	}
	if u, err := url.Parse(media); err == nil && len(u.Scheme) > 1 && !strings.EqualFold(u.Scheme, "file") {
		return fmt.Errorf("%w: non-local media %q", ErrControlUnsupported, u.Scheme+"://")
	}
	if goos == "windows" && strings.EqualFold(filepath.Ext(media), ".webm") {
		return fmt.Errorf("%w: .webm playback on windows", ErrControlUnsupported)
	}
	return nil
}

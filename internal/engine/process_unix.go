//go:build unix

package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive probes pid with signal 0; EPERM still means the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return true
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

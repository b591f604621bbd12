// Package proc probes and signals workstation-local processes.
package proc

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid refers to a live process using the signal-0
// probe. EPERM means the process exists but belongs to another user, which
// still counts as alive for liveness purposes.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// Terminate sends SIGTERM to the process group when pgid is set, else to
// the single process.
func Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// Kill sends SIGKILL, the non-negotiable variant of Terminate.
func Kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return os.ErrProcessDone
	}
	// Negative pid targets the process group; workers are started with
	// Setpgid so their own children receive the signal too.
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

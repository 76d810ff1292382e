//go:build !windows

package supervisor

import (
	"errors"
	"syscall"
)

// signalGroup sends sig to the process group led by pid (negative pid), the
// POSIX idiom for reaching a shell's entire subprocess tree at once. A
// target that has already exited (ESRCH) is treated as success: the reaper
// will converge the stored state regardless.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// pidAlive reports whether pid names a live process, treating EPERM (a
// process we don't own but that still exists, e.g. owned by another user)
// as alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

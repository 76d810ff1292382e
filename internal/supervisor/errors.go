package supervisor

import (
	"errors"
	"os/exec"
	"syscall"
)

// Error kinds surfaced by Spawn. Implementers classify the underlying OS
// error into one of these so the Job Manager can decide starting vs
// failed_start without string-matching error text.
var (
	ErrExecutableNotFound = errors.New("supervisor: shell executable not found")
	ErrPermissionDenied   = errors.New("supervisor: permission denied")
	ErrWorkDirInvalid     = errors.New("supervisor: working directory invalid")
	ErrLogFileUnwritable  = errors.New("supervisor: log file unwritable")
	ErrForkFailed         = errors.New("supervisor: fork/exec failed")

	// ErrProcessVanished is reported by the reaper when a registry entry's
	// pid is no longer alive but no exit status could be collected, e.g.
	// after a foreign kill or a restart that left an orphaned registry
	// entry without an owned *exec.Cmd to Wait() on.
	ErrProcessVanished = errors.New("supervisor: process vanished without observed exit")
)

// classifySpawnError maps a raw error from exec.Cmd.Start or directory
// preparation into one of the kinds above, wrapping the original error so
// callers can still inspect it with errors.Unwrap.
func classifySpawnError(err error) error {
	if err == nil {
		return nil
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return joinKind(ErrExecutableNotFound, err)
	}
	if errors.Is(err, syscall.ENOENT) {
		return joinKind(ErrWorkDirInvalid, err)
	}
	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return joinKind(ErrPermissionDenied, err)
	}
	if errors.Is(err, syscall.ENOTDIR) {
		return joinKind(ErrWorkDirInvalid, err)
	}
	return joinKind(ErrForkFailed, err)
}

func joinKind(kind, cause error) error {
	return &kindError{kind: kind, cause: cause}
}

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }
func (e *kindError) Is(target error) bool {
	return errors.Is(e.kind, target)
}
func (e *kindError) Unwrap() error { return e.cause }

package supervisor

import (
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// verifyPidOwnsCommand checks that pid both still exists and is running the
// given command, guarding against the pid-reuse hazard called out in the
// design notes: the OS is free to recycle a pid between the moment we last
// observed it and the moment we look it up again from the store. Matching
// on pid alone is unsafe; matching on pid AND command line closes the gap
// without needing to keep the process alive the whole time we check.
//
// The live command line is always "/bin/sh -c <command>" (see shell.go), so
// containment rather than equality is the right comparison.
func verifyPidOwnsCommand(pid int, command string) bool {
	if pid <= 0 || command == "" {
		return false
	}
	proc, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return false
	}
	cmdline, err := proc.Cmdline()
	if err != nil {
		return false
	}
	return strings.Contains(cmdline, command)
}

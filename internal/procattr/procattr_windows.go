//go:build windows

// Package procattr provides platform-specific subprocess configuration
// for orphan prevention.
package procattr

import (
	"os"
	"os/exec"
	"syscall"
)

// Set is a no-op on Windows; there are no POSIX process groups to configure.
func Set(cmd *exec.Cmd) {}

// SignalGroup kills the direct child. Windows has no group signalling, so
// grandchildren spawned by the agent are not covered.
func SignalGroup(p *os.Process, _ syscall.Signal) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

// KillGroup kills the direct child.
func KillGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

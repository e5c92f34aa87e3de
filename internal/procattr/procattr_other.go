//go:build unix && !linux

// Package procattr provides platform-specific subprocess configuration
// for orphan prevention.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set configures a process group for subprocess orphan prevention.
// Pdeathsig is Linux-only; elsewhere Setpgid alone lets the supervisor
// clean up the whole agent process tree with a group signal.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

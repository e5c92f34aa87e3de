//go:build linux

// Package procattr provides platform-specific subprocess configuration
// for orphan prevention.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set configures process group and parent-death signal for subprocess
// orphan prevention. On Linux, Pdeathsig causes the agent process to receive
// SIGTERM when the bridge dies (e.g. OOM kill, SIGKILL), so a crashed host
// never leaves a long-running agent behind.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

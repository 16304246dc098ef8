//go:build unix

package processHelpers

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setSysProcAttr puts the worker in a new process group led by itself.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func interruptGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGINT)
}

func terminateGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGTERM)
}

func terminateProcess(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

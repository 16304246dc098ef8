//go:build windows

package processHelpers

import (
	"os"
	"os/exec"
	"syscall"
)

func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// Windows has no signal delivery to a process group; the policy falls back to
// killing the lone process.
func interruptGroup(int) error {
	return errGroupSignalUnsupported
}

func terminateGroup(int) error {
	return errGroupSignalUnsupported
}

func terminateProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

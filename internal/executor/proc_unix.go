//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group and makes
// cancellation kill the whole group, so no grandchildren are orphaned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID targets the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

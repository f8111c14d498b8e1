//go:build windows

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcess passes the command line to cmd.exe verbatim. Go's default
// argument quoting does not match the way cmd.exe parses "/c <text>".
func configureProcess(cmd *exec.Cmd) {
	if len(cmd.Args) != 3 {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: syscall.EscapeArg(cmd.Path) + " " + cmd.Args[1] + " " + cmd.Args[2],
	}
}

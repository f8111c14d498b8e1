// executor.go implements shell command execution with process group management.
// The command text is handed to the host shell as a single argument; the
// shell does all tokenizing. On POSIX hosts the child gets its own process
// group so a cancellation kills everything it spawned.
package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// waitDelay bounds how long Wait blocks on I/O after the child is killed.
const waitDelay = 5 * time.Second

// Executor runs shell commands and reports their exit status.
type Executor struct {
	// Shell is the command interpreter. Default: sh (cmd.exe on Windows).
	Shell string

	// ShellFlag precedes the command text. Default: -c (/c for cmd.exe).
	ShellFlag string

	// Stdout and Stderr receive the child's output. nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Timeout kills the command after this long. Zero means no limit.
	Timeout time.Duration

	shells *ShellCache
}

// New creates an Executor for the host platform whose child output flows
// through to this process's stdout and stderr.
func New() *Executor {
	shell := "sh"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
	}
	return &Executor{
		Shell:     shell,
		ShellFlag: FlagFor(shell),
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		shells:    defaultShells,
	}
}

// FlagFor returns the flag that makes shell run its next argument as a command.
func FlagFor(shell string) string {
	base := strings.ToLower(filepath.Base(shell))
	if base == "cmd" || base == "cmd.exe" {
		return "/c"
	}
	return "-c"
}

// Execute runs command and blocks until it terminates.
//
// A normal exit, whatever the code, is a Result. A Timeout expiry is a
// Result with TimedOut set. Failing to start the shell, death by signal, and
// cancellation of ctx are reported as *ExecError.
func (e *Executor) Execute(ctx context.Context, command string) (*Result, error) {
	shells := e.shells
	if shells == nil {
		shells = defaultShells
	}
	shellPath, err := shells.Lookup(e.Shell)
	if err != nil {
		return nil, &ExecError{Kind: ErrSpawnFailed, Command: command, Err: err}
	}
	flag := e.ShellFlag
	if flag == "" {
		flag = FlagFor(e.Shell)
	}

	execCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, shellPath, flag, command)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	configureProcess(cmd)
	cmd.WaitDelay = waitDelay

	result := &Result{
		Command:   command,
		StartedAt: time.Now(),
	}

	if err := cmd.Start(); err != nil {
		return nil, &ExecError{Kind: ErrSpawnFailed, Command: command, Err: err}
	}
	result.PID = cmd.Process.Pid

	err = cmd.Wait()
	result.Duration = time.Since(result.StartedAt)

	if err == nil {
		return result, nil
	}

	// The caller cancelled us (shutdown): whatever the child did, it did not finish on its own.
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, &ExecError{Kind: ErrAbnormalTermination, Command: command, Err: ctx.Err(), Result: result}
	}

	if e.Timeout > 0 && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			return result, &ExecError{Kind: ErrAbnormalTermination, Command: command, Err: err, Result: result}
		}
		return result, nil
	}

	// The child exited but left its output pipes open past WaitDelay.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
		return result, nil
	}

	result.ExitCode = -1
	return result, &ExecError{Kind: ErrAbnormalTermination, Command: command, Err: err, Result: result}
}

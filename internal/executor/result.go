// result.go defines the command execution result and error types.
package executor

import (
	"errors"
	"fmt"
	"time"
)

// Result holds the outcome of a command that ran to completion.
type Result struct {
	// Command is the shell text that was run.
	Command string `json:"command"`

	// ExitCode is the process exit code. -1 indicates timeout or signal death.
	ExitCode int `json:"exit_code"`

	// PID is the shell's process ID.
	PID int `json:"pid"`

	// Duration is how long the command took to execute.
	Duration time.Duration `json:"duration_ms"`

	// TimedOut is true if the command was killed due to timeout.
	TimedOut bool `json:"timed_out"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`
}

// DurationMs returns the duration in milliseconds.
func (r *Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Execution error kinds. An *ExecError matches its kind via errors.Is.
var (
	ErrSpawnFailed         = errors.New("failed to start command")
	ErrAbnormalTermination = errors.New("command terminated abnormally")
)

// ExecError reports a command that could not be started or did not exit normally.
type ExecError struct {
	Kind    error
	Command string
	Err     error
	// Result is set when the process started; nil for spawn failures.
	Result *Result
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %q: %v", e.Kind, e.Command, e.Err)
}

func (e *ExecError) Is(target error) bool {
	return e.Kind == target
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Reason returns a short machine-friendly reason for logs.
func (e *ExecError) Reason() string {
	if e.Kind == ErrSpawnFailed {
		return "spawn_failed"
	}
	return "abnormal_termination"
}

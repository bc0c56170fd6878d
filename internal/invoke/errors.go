package invoke

import (
	"fmt"
	"time"
)

// maxDetailLen caps how much captured text is repeated in an error message.
const maxDetailLen = 2048

// SpawnError means the process could not be started at all.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError means the timeout fired before the process exited. The process
// has been terminated and reaped by the time this error is returned.
type TimeoutError struct {
	Label   string
	Timeout time.Duration
	Elapsed time.Duration
	// Output is whatever was captured before termination.
	Output string
	Stderr string
}

func (e *TimeoutError) Error() string {
	if e.Timeout%time.Second == 0 {
		return fmt.Sprintf("%s execution timed out after %d seconds", e.Label, int(e.Timeout/time.Second))
	}
	return fmt.Sprintf("%s execution timed out after %s", e.Label, e.Timeout)
}

// ExitError means the process exited with a non-zero status or was killed by a
// signal.
type ExitError struct {
	Label    string
	ExitCode int
	// Signal is the terminating signal name, empty if the process exited normally.
	Signal string
	Output string
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Label, e.ExitCode)
	if e.Signal != "" {
		msg += fmt.Sprintf(" (signal: %s)", e.Signal)
	}
	detail := e.Stderr
	if detail == "" {
		detail = e.Output
	}
	if detail == "" {
		detail = "No output"
	}
	return msg + ". Output: " + tail(detail, maxDetailLen)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Package invoke runs an external executable to completion and captures what it
// prints, either through a pseudo-terminal or through plain pipes.
//
// Every invocation is bounded by a timeout. When the timeout fires the process
// group receives SIGTERM, then SIGKILL after a grace period, and the caller gets
// a *TimeoutError once the process has been reaped. Exactly one outcome is
// reported per invocation.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Mode selects how the child's output is captured.
type Mode string

const (
	// ModePTY runs the child on a pseudo-terminal; stdout and stderr are merged.
	ModePTY Mode = "pty"
	// ModePipes runs the child with separate stdout and stderr pipes.
	ModePipes Mode = "pipes"
)

// ParseMode converts a config string into a Mode. Empty means pty.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePTY:
		return ModePTY, nil
	case ModePipes:
		return ModePipes, nil
	default:
		return "", fmt.Errorf("unknown capture mode %q (want pty or pipes)", s)
	}
}

// ErrInvalidRequest is returned before anything is spawned when a Request is
// unusable.
var ErrInvalidRequest = errors.New("invalid invocation request")

// Request describes one invocation.
type Request struct {
	Executable string
	Args       []string
	// Env holds overrides merged over the inherited environment.
	Env map[string]string
	Dir string
	// Timeout must be positive.
	Timeout time.Duration
	Mode    Mode
	// StripANSI removes terminal control sequences from the returned text.
	StripANSI bool
	// Output, when set, receives output as it is produced (stdout only in pipes
	// mode).
	Output io.Writer
	// Label names the process in error messages. Defaults to the executable's
	// base name.
	Label string
}

// Validate checks the invariants every Request must satisfy.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Executable) == "" {
		return fmt.Errorf("%w: executable is required", ErrInvalidRequest)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidRequest, r.Timeout)
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (r Request) label() string {
	if r.Label != "" {
		return r.Label
	}
	return filepath.Base(r.Executable)
}

// Result is the outcome of a process that exited with status 0.
type Result struct {
	// Output is the combined stream in pty mode and stdout in pipes mode.
	Output string
	// Stderr is empty in pty mode.
	Stderr   string
	Duration time.Duration
}

// Invoker runs external processes.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

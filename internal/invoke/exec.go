package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/SyntesseraAI/n8n-heroku/internal/ansi"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
)

const (
	// DefaultKillGrace is the time we wait after SIGTERM before sending SIGKILL.
	DefaultKillGrace = 5 * time.Second
	// defaultDrainTimeout bounds how long output is read after the process exits,
	// in case a grandchild keeps the terminal or pipes open.
	defaultDrainTimeout = 2 * time.Second

	ptyCols = 120
	ptyRows = 30
	ptyTerm = "xterm-color"
)

// Exec is the Invoker backed by os/exec and a pseudo-terminal.
type Exec struct {
	killGrace    time.Duration
	drainTimeout time.Duration
	environ      func() []string
	logger       *slog.Logger
}

// Option configures an Exec.
type Option func(*Exec)

// WithKillGrace sets the delay between SIGTERM and SIGKILL on timeout.
func WithKillGrace(d time.Duration) Option {
	return func(e *Exec) {
		if d > 0 {
			e.killGrace = d
		}
	}
}

// WithBaseEnv replaces os.Environ as the inherited environment.
func WithBaseEnv(env []string) Option {
	return func(e *Exec) {
		snapshot := append([]string(nil), env...)
		e.environ = func() []string { return snapshot }
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exec) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Exec.
func New(opts ...Option) *Exec {
	e := &Exec{
		killGrace:    DefaultKillGrace,
		drainTimeout: defaultDrainTimeout,
		environ:      os.Environ,
		logger:       log.WithComponent("invoke"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// process is a started child plus the buffers its output lands in.
type process struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	stderr *lockedBuffer
	// finish releases capture resources once the process has been reaped.
	finish func()
}

// Invoke runs req to completion. See the package documentation for the
// timeout contract.
func (e *Exec) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	mode, _ := ParseMode(string(req.Mode))
	logger := e.logger.With("executable", req.Executable, "mode", string(mode))

	// Arm the timer before spawning so the timeout covers startup.
	timeoutTimer := time.NewTimer(req.Timeout)
	defer timeoutTimer.Stop()

	start := time.Now()
	var (
		p   *process
		err error
	)
	if mode == ModePTY {
		p, err = e.startPTY(req)
	} else {
		p, err = e.startPipes(req)
	}
	if err != nil {
		return nil, &SpawnError{Executable: req.Executable, Err: err}
	}
	logger.Debug("process started", "pid", p.cmd.Process.Pid, "timeout", req.Timeout)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- p.cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		// An exit that raced the timer wins.
		select {
		case werr := <-waitErr:
			return e.settle(req, p, werr, start, logger)
		default:
		}
		logger.Warn("process timed out, sending SIGTERM", "timeout", req.Timeout)
		e.terminate(p.cmd, waitErr, logger)
		p.finish()
		return nil, &TimeoutError{
			Label:   req.label(),
			Timeout: req.Timeout,
			Elapsed: time.Since(start),
			Output:  e.text(req, p.stdout.String()),
			Stderr:  e.text(req, p.stderr.String()),
		}

	case <-ctx.Done():
		logger.Warn("invocation cancelled, sending SIGTERM")
		e.terminate(p.cmd, waitErr, logger)
		p.finish()
		return nil, fmt.Errorf("%s cancelled: %w", req.label(), ctx.Err())

	case werr := <-waitErr:
		return e.settle(req, p, werr, start, logger)
	}
}

// settle turns the reaped process's wait status into the invocation outcome.
func (e *Exec) settle(req Request, p *process, werr error, start time.Time, logger *slog.Logger) (*Result, error) {
	p.finish()
	elapsed := time.Since(start)
	output := e.text(req, p.stdout.String())
	stderr := e.text(req, p.stderr.String())

	// A grandchild holding the pipes open past exit is not a failure.
	if errors.Is(werr, exec.ErrWaitDelay) {
		werr = nil
	}
	if werr != nil {
		var exitErr *exec.ExitError
		if !errors.As(werr, &exitErr) {
			return nil, fmt.Errorf("wait for %s: %w", req.label(), werr)
		}
		result := &ExitError{
			Label:    req.label(),
			ExitCode: exitErr.ExitCode(),
			Output:   output,
			Stderr:   stderr,
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signal = ws.Signal().String()
		}
		logger.Warn("process exited with non-zero status", "exit_code", result.ExitCode, "signal", result.Signal)
		return nil, result
	}

	logger.Debug("process exited", "duration", elapsed)
	return &Result{Output: output, Stderr: stderr, Duration: elapsed}, nil
}

func (e *Exec) text(req Request, s string) string {
	if req.StripANSI {
		return ansi.Strip(s)
	}
	return s
}

// terminate sends SIGTERM to the process group, escalates to SIGKILL after the
// grace period, and returns once the process has been reaped.
func (e *Exec) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(e.killGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("process exited after SIGTERM")
	case <-grace.C:
		logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// signalGroup signals the child's process group, falling back to the child
// alone if the group is already gone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err == nil {
		return nil
	}
	if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (e *Exec) command(req Request, env []string) *exec.Cmd {
	cmd := exec.Command(req.Executable, req.Args...)
	cmd.Env = env
	cmd.Dir = req.Dir
	return cmd
}

// startPTY starts the child as a session leader on a new terminal, so its pid
// is also its process group id.
func (e *Exec) startPTY(req Request) (*process, error) {
	overrides := make(map[string]string, len(req.Env)+1)
	overrides["TERM"] = ptyTerm
	for k, v := range req.Env {
		overrides[k] = v
	}
	cmd := e.command(req, MergeEnv(e.environ(), overrides))

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: ptyCols, Rows: ptyRows})
	if err != nil {
		return nil, err
	}

	out := &lockedBuffer{}
	var w io.Writer = out
	if req.Output != nil {
		w = io.MultiWriter(out, req.Output)
	}

	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		// Reading the master returns EIO once every slave fd is closed.
		_, _ = io.Copy(w, ptmx)
	}()

	drain := e.drainTimeout
	return &process{
		cmd:    cmd,
		stdout: out,
		stderr: &lockedBuffer{},
		finish: func() {
			t := time.NewTimer(drain)
			defer t.Stop()
			select {
			case <-copyDone:
			case <-t.C:
			}
			_ = ptmx.Close()
		},
	}, nil
}

// startPipes starts the child in its own process group with separate output
// buffers.
func (e *Exec) startPipes(req Request) (*process, error) {
	cmd := e.command(req, MergeEnv(e.environ(), req.Env))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = e.drainTimeout

	stdout, stderr := &lockedBuffer{}, &lockedBuffer{}
	cmd.Stdout = stdout
	if req.Output != nil {
		cmd.Stdout = io.MultiWriter(stdout, req.Output)
	}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &process{cmd: cmd, stdout: stdout, stderr: stderr, finish: func() {}}, nil
}

// lockedBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

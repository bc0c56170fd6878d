package cloudrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/ansi"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
)

// defaultCleanupTimeout bounds the delete call, which runs even after the
// caller's context is cancelled.
const defaultCleanupTimeout = 2 * time.Minute

// Stage is one step of the job lifecycle.
type Stage string

const (
	StageCreate  Stage = "create"
	StageExecute Stage = "execute"
	StageLogs    Stage = "logs"
	StageCleanup Stage = "cleanup"
)

var (
	ErrCreate   = errors.New("job creation failed")
	ErrExecute  = errors.New("job execution failed")
	ErrLogFetch = errors.New("log fetch failed")
	ErrCleanup  = errors.New("job cleanup failed")
)

var stageSentinels = map[Stage]error{
	StageCreate:  ErrCreate,
	StageExecute: ErrExecute,
	StageLogs:    ErrLogFetch,
	StageCleanup: ErrCleanup,
}

// StageError is a failure of one lifecycle stage. errors.Is matches the
// stage's sentinel as well as the wrapped cause.
type StageError struct {
	Stage Stage
	Job   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v for job %s: %v", stageSentinels[e.Stage], e.Job, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool {
	return target == stageSentinels[e.Stage]
}

// StageHook observes lifecycle progress. err is nil when the stage succeeded.
type StageHook func(job string, stage Stage, err error)

// Result is a successful dispatch.
type Result struct {
	JobName  string
	Output   string
	Duration time.Duration
}

// Dispatcher drives a JobClient through one job lifecycle per call.
type Dispatcher struct {
	client         JobClient
	now            func() time.Time
	hook           StageHook
	cleanupTimeout time.Duration
	logger         *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithStageHook registers a lifecycle observer.
func WithStageHook(h StageHook) DispatcherOption {
	return func(d *Dispatcher) { d.hook = h }
}

// WithClock overrides the clock used for job names.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithCleanupTimeout bounds the delete call.
func WithCleanupTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.cleanupTimeout = timeout
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(client JobClient, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		client:         client,
		now:            time.Now,
		cleanupTimeout: defaultCleanupTimeout,
		logger:         log.WithComponent("cloudrun"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch creates a job, runs it to completion, reads its logs and deletes
// it. The delete is issued exactly once whatever happened before it, and its
// failure never replaces the result or the earlier error.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg JobConfig) (*Result, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := d.now()
	spec := BuildSpec(cfg, start)
	logger := d.logger.With("job", spec.Name, "project", spec.ProjectID, "region", spec.Region)

	raw, err := d.run(ctx, spec, cfg, logger)
	d.cleanup(ctx, spec, logger)
	if err != nil {
		return nil, err
	}

	output := ansi.DropBlankLines(ansi.Strip(raw))
	elapsed := time.Since(start)
	logger.Info("dispatch completed", "duration", elapsed, "output_bytes", len(output))
	return &Result{JobName: spec.Name, Output: output, Duration: elapsed}, nil
}

func (d *Dispatcher) run(ctx context.Context, spec JobSpec, cfg JobConfig, logger *slog.Logger) (string, error) {
	logger.Info("creating job", "image", spec.Image, "memory", spec.Memory, "cpu", spec.CPU)
	if err := d.client.CreateJob(ctx, spec); err != nil {
		return "", d.fail(spec, StageCreate, err, logger)
	}
	d.notify(spec.Name, StageCreate, nil)

	logger.Info("executing job")
	if err := d.client.ExecuteJob(ctx, spec); err != nil {
		return "", d.fail(spec, StageExecute, err, logger)
	}
	d.notify(spec.Name, StageExecute, nil)

	logger.Debug("fetching logs", "limit", cfg.LogLimit, "verbose", cfg.Verbose)
	logs, err := d.client.ReadLogs(ctx, spec, LogQuery{Limit: cfg.LogLimit, Verbose: cfg.Verbose})
	if err != nil {
		return "", d.fail(spec, StageLogs, err, logger)
	}
	d.notify(spec.Name, StageLogs, nil)
	return logs, nil
}

func (d *Dispatcher) fail(spec JobSpec, stage Stage, err error, logger *slog.Logger) error {
	logger.Error("job stage failed", "stage", string(stage), "error", err)
	serr := &StageError{Stage: stage, Job: spec.Name, Err: err}
	d.notify(spec.Name, stage, serr)
	return serr
}

// cleanup deletes the job on a context that outlives the caller's.
func (d *Dispatcher) cleanup(ctx context.Context, spec JobSpec, logger *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
	defer cancel()

	logger.Debug("deleting job")
	if err := d.client.DeleteJob(cctx, spec); err != nil {
		serr := &StageError{Stage: StageCleanup, Job: spec.Name, Err: err}
		logger.Warn("job cleanup failed", "error", err)
		d.notify(spec.Name, StageCleanup, serr)
		return
	}
	d.notify(spec.Name, StageCleanup, nil)
}

func (d *Dispatcher) notify(job string, stage Stage, err error) {
	if d.hook != nil {
		d.hook(job, stage, err)
	}
}

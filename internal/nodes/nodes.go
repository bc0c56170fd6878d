// Package nodes executes batches of workflow items against the local claude
// CLI or a remote Cloud Run job, one item at a time.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// Result is the record produced for one input item.
type Result struct {
	Model     string `json:"model,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Output    string `json:"output,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Region    string `json:"region,omitempty"`
	JobName   string `json:"job_name,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	// Item pairs the record with its input position.
	Item int `json:"item"`
}

// ItemError aborts a batch at the failing item.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Recorder stores run history. *runs.Store implements it.
type Recorder interface {
	Start(ctx context.Context, req runs.StartRequest) (string, error)
	Complete(ctx context.Context, id string, c runs.Completion) error
}

// Option configures run tracking for a node.
type Option func(*tracker)

// WithRecorder records every item in run history.
func WithRecorder(r Recorder) Option {
	return func(t *tracker) { t.recorder = r }
}

// WithPublisher publishes lifecycle events for every item.
func WithPublisher(p events.Publisher) Option {
	return func(t *tracker) {
		if p != nil {
			t.publisher = p
		}
	}
}

// tracker wraps one item execution with run history and events. History and
// event failures are logged and never fail the item.
type tracker struct {
	kind      runs.Kind
	recorder  Recorder
	publisher events.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

func newTracker(kind runs.Kind, opts []Option) *tracker {
	t := &tracker{
		kind:      kind,
		publisher: events.Discard,
		now:       time.Now,
		logger:    log.WithComponent("nodes").With("kind", string(kind)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type outcome struct {
	output  string
	jobName string
}

type itemFunc func(ctx context.Context, runID string) (outcome, error)

func (t *tracker) track(ctx context.Context, batchID string, index int, model, prompt string, fn itemFunc) (string, outcome, error) {
	runID := ""
	if t.recorder != nil {
		id, err := t.recorder.Start(ctx, runs.StartRequest{
			BatchID:   batchID,
			ItemIndex: index,
			Kind:      t.kind,
			Model:     model,
			Prompt:    prompt,
		})
		if err != nil {
			t.logger.Warn("failed to record run start", "batch_id", batchID, "item", index, "error", err)
		} else {
			runID = id
		}
	}

	logger := t.logger.With("batch_id", batchID, "item", index)
	if runID != "" {
		logger = logger.With("run_id", runID)
	}
	t.publisher.Publish(events.TypeRunStarted, events.RunStarted{
		RunID: runID, BatchID: batchID, ItemIndex: index, Kind: string(t.kind), Model: model,
	})

	start := t.now()
	out, err := fn(ctx, runID)
	elapsed := t.now().Sub(start)

	status := statusFor(err)
	completion := runs.Completion{Status: status, JobName: out.jobName, Output: out.output}
	if err != nil {
		completion.Error = err.Error()
		logger.Error("item failed", "status", string(status), "duration", elapsed, "error", err)
	} else {
		logger.Info("item completed", "duration", elapsed, "output_bytes", len(out.output))
	}

	if runID != "" {
		// Record completion even if the batch context is already cancelled.
		if cerr := t.recorder.Complete(context.WithoutCancel(ctx), runID, completion); cerr != nil {
			logger.Warn("failed to record run completion", "error", cerr)
		}
	}
	t.publisher.Publish(events.TypeRunCompleted, events.RunCompleted{
		RunID:      runID,
		BatchID:    batchID,
		ItemIndex:  index,
		Kind:       string(t.kind),
		Status:     string(status),
		DurationMS: elapsed.Milliseconds(),
		Error:      completion.Error,
	})
	return runID, out, err
}

func statusFor(err error) runs.Status {
	if err == nil {
		return runs.StatusSucceeded
	}
	var timeout *invoke.TimeoutError
	if errors.As(err, &timeout) {
		return runs.StatusTimedOut
	}
	return runs.StatusFailed
}

// runBatch applies exec to each item in order. With continueOnFail a failing
// item becomes an error record; otherwise the first failure aborts the batch.
// A cancelled context always aborts.
func runBatch[T any](ctx context.Context, items []T, continueOnFail bool, exec func(ctx context.Context, batchID string, index int, item T) (Result, error)) ([]Result, error) {
	batchID := uuid.NewString()
	results := make([]Result, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, &ItemError{Index: i, Err: err}
		}
		res, err := exec(ctx, batchID, i, item)
		if err != nil {
			if continueOnFail && ctx.Err() == nil {
				results = append(results, Result{Success: false, Error: err.Error(), RunID: res.RunID, Item: i})
				continue
			}
			return results, &ItemError{Index: i, Err: err}
		}
		res.Item = i
		res.Success = true
		results = append(results, res)
	}
	return results, nil
}

package cloudrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logging "cloud.google.com/go/logging"
	"cloud.google.com/go/logging/logadmin"
	run "cloud.google.com/go/run/apiv2"
	runpb "cloud.google.com/go/run/apiv2/runpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"
)

// APIClient implements JobClient with the Cloud Run Admin API and the Cloud
// Logging API instead of the gcloud binary.
type APIClient struct {
	jobs *run.JobsClient
	logs *logadmin.Client
}

// NewAPIClient dials both APIs for projectID. Credentials come from the
// environment unless opts say otherwise.
func NewAPIClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*APIClient, error) {
	jobs, err := run.NewJobsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create jobs client: %w", err)
	}
	logs, err := logadmin.NewClient(ctx, projectID, opts...)
	if err != nil {
		_ = jobs.Close()
		return nil, fmt.Errorf("create logadmin client: %w", err)
	}
	return &APIClient{jobs: jobs, logs: logs}, nil
}

// Close releases both clients.
func (c *APIClient) Close() error {
	return errors.Join(c.jobs.Close(), c.logs.Close())
}

// CreateJob implements JobClient.
func (c *APIClient) CreateJob(ctx context.Context, spec JobSpec) error {
	op, err := c.jobs.CreateJob(ctx, &runpb.CreateJobRequest{
		Parent: spec.Parent(),
		JobId:  spec.Name,
		Job:    JobProto(spec),
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("wait for job creation: %w", err)
	}
	return nil
}

// ExecuteJob implements JobClient. It returns an error when any task of the
// execution failed or was cancelled.
func (c *APIClient) ExecuteJob(ctx context.Context, spec JobSpec) error {
	op, err := c.jobs.RunJob(ctx, &runpb.RunJobRequest{Name: spec.FullName()})
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	execution, err := op.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for execution: %w", err)
	}
	return ExecutionError(execution)
}

// ReadLogs implements JobClient. Entries come back newest first, like
// "gcloud logging read".
func (c *APIClient) ReadLogs(ctx context.Context, spec JobSpec, q LogQuery) (string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	it := c.logs.Entries(ctx, logadmin.Filter(LogFilter(spec.Name)), logadmin.NewestFirst())

	lines := make([]string, 0, limit)
	for len(lines) < limit {
		entry, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read log entries: %w", err)
		}
		lines = append(lines, FormatEntry(entry, q.Verbose))
	}
	return strings.Join(lines, "\n"), nil
}

// DeleteJob implements JobClient.
func (c *APIClient) DeleteJob(ctx context.Context, spec JobSpec) error {
	op, err := c.jobs.DeleteJob(ctx, &runpb.DeleteJobRequest{Name: spec.FullName()})
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("wait for job deletion: %w", err)
	}
	return nil
}

// JobProto converts a JobSpec into the single-task job the API expects.
func JobProto(spec JobSpec) *runpb.Job {
	env := make([]*runpb.EnvVar, 0, len(spec.Env))
	for _, v := range spec.Env {
		env = append(env, &runpb.EnvVar{
			Name:   v.Name,
			Values: &runpb.EnvVar_Value{Value: v.Value},
		})
	}
	return &runpb.Job{
		Template: &runpb.ExecutionTemplate{
			TaskCount:   1,
			Parallelism: 1,
			Template: &runpb.TaskTemplate{
				Containers: []*runpb.Container{{
					Image: spec.Image,
					Env:   env,
					Resources: &runpb.ResourceRequirements{
						Limits: map[string]string{
							"cpu":    spec.CPU,
							"memory": spec.Memory,
						},
					},
				}},
				Retries: &runpb.TaskTemplate_MaxRetries{MaxRetries: int32(spec.MaxRetries)},
				Timeout: durationpb.New(spec.TaskTimeout),
			},
		},
	}
}

// ExecutionError reports failed or cancelled tasks of a finished execution.
func ExecutionError(execution *runpb.Execution) error {
	if execution == nil {
		return errors.New("execution result missing")
	}
	if execution.GetFailedCount() > 0 || execution.GetCancelledCount() > 0 {
		return fmt.Errorf("execution %s: %d task(s) failed, %d cancelled",
			execution.GetName(), execution.GetFailedCount(), execution.GetCancelledCount())
	}
	return nil
}

// FormatEntry renders one log entry the way the gcloud formats do: the bare
// payload, or timestamp and payload when verbose.
func FormatEntry(entry *logging.Entry, verbose bool) string {
	var payload string
	switch p := entry.Payload.(type) {
	case nil:
	case string:
		payload = p
	default:
		payload = fmt.Sprintf("%v", p)
	}
	payload = strings.TrimRight(payload, "\n")
	if !verbose {
		return payload
	}
	return entry.Timestamp.UTC().Format(time.RFC3339Nano) + "  " + payload
}

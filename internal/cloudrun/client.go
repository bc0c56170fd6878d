package cloudrun

import "context"

//go:generate mockgen -destination=mocks/mock_jobclient.go -package=mocks github.com/SyntesseraAI/n8n-heroku/internal/cloudrun JobClient

// LogQuery bounds and formats a log read.
type LogQuery struct {
	Limit int
	// Verbose prefixes each payload with its timestamp.
	Verbose bool
}

// JobClient performs the four remote operations of a dispatch.
type JobClient interface {
	CreateJob(ctx context.Context, spec JobSpec) error
	// ExecuteJob starts an execution and blocks until it finishes.
	ExecuteJob(ctx context.Context, spec JobSpec) error
	ReadLogs(ctx context.Context, spec JobSpec, q LogQuery) (string, error)
	DeleteJob(ctx context.Context, spec JobSpec) error
}

// LogFilter selects the log entries written by one job.
func LogFilter(jobName string) string {
	return `resource.type="cloud_run_job" AND resource.labels.job_name="` + jobName + `"`
}

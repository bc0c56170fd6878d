package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/cloudrun"
	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// CloudRunItem is one input of the CloudRunDispatch node. Empty fields take
// the node defaults.
type CloudRunItem struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Memory string `json:"memory,omitempty"`
	CPU    string `json:"cpu,omitempty"`
	// Timeout is a task timeout such as "3600s" or "1h"; a bare number is seconds.
	Timeout    string `json:"timeout,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
	Verbose    *bool  `json:"verbose,omitempty"`
}

// CloudRunDefaults carry the credentials and the per-item defaults.
type CloudRunDefaults struct {
	ProjectID   string
	Region      string
	ServiceName string
	Image       string
	OAuthToken  string
	GitHubToken string

	Model       string
	Memory      string
	CPU         string
	TaskTimeout time.Duration
	MaxRetries  int
	Verbose     bool
	LogLimit    int
}

// CloudRunDispatch runs each item as a one-shot Cloud Run job.
type CloudRunDispatch struct {
	client   cloudrun.JobClient
	defaults CloudRunDefaults
	dopts    []cloudrun.DispatcherOption
	tracker  *tracker
}

// NewCloudRunDispatch creates a CloudRunDispatch node backed by client.
func NewCloudRunDispatch(client cloudrun.JobClient, defaults CloudRunDefaults, opts ...Option) *CloudRunDispatch {
	return &CloudRunDispatch{client: client, defaults: defaults, tracker: newTracker(runs.KindCloudRunDispatch, opts)}
}

// WithDispatcherOptions is applied to the dispatcher built for every item.
func (n *CloudRunDispatch) WithDispatcherOptions(opts ...cloudrun.DispatcherOption) *CloudRunDispatch {
	n.dopts = append(n.dopts, opts...)
	return n
}

// Execute runs items sequentially.
func (n *CloudRunDispatch) Execute(ctx context.Context, items []CloudRunItem, continueOnFail bool) ([]Result, error) {
	return runBatch(ctx, items, continueOnFail, n.executeItem)
}

func (n *CloudRunDispatch) executeItem(ctx context.Context, batchID string, index int, item CloudRunItem) (Result, error) {
	cfg, err := n.resolve(item)
	if err != nil {
		return Result{}, err
	}

	runID, out, err := n.tracker.track(ctx, batchID, index, cfg.Model, cfg.Prompt,
		func(ctx context.Context, runID string) (outcome, error) {
			hook := func(job string, stage cloudrun.Stage, err error) {
				ev := events.JobStage{RunID: runID, Job: job, Stage: string(stage)}
				if err != nil {
					ev.Error = err.Error()
				}
				n.tracker.publisher.Publish(events.TypeJobStage, ev)
			}
			opts := append(append([]cloudrun.DispatcherOption(nil), n.dopts...), cloudrun.WithStageHook(hook))
			res, err := cloudrun.NewDispatcher(n.client, opts...).Dispatch(ctx, cfg)
			if err != nil {
				return outcome{}, err
			}
			return outcome{output: res.Output, jobName: res.JobName}, nil
		})
	if err != nil {
		return Result{RunID: runID}, err
	}
	return Result{
		Model:     cfg.Model,
		Prompt:    cfg.Prompt,
		Output:    out.output,
		ProjectID: cfg.ProjectID,
		Region:    cfg.Region,
		JobName:   out.jobName,
		RunID:     runID,
	}, nil
}

// Plan resolves item against the node defaults without contacting Cloud Run
// and returns the job that would be created and the log query that would be
// issued.
func (n *CloudRunDispatch) Plan(item CloudRunItem, now time.Time) (cloudrun.JobSpec, cloudrun.LogQuery, error) {
	cfg, err := n.resolve(item)
	if err != nil {
		return cloudrun.JobSpec{}, cloudrun.LogQuery{}, err
	}
	return cloudrun.BuildSpec(cfg, now), cloudrun.LogQuery{Limit: cfg.LogLimit, Verbose: cfg.Verbose}, nil
}

func (n *CloudRunDispatch) resolve(item CloudRunItem) (cloudrun.JobConfig, error) {
	cfg, err := n.jobConfig(item)
	if err != nil {
		return cloudrun.JobConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cloudrun.JobConfig{}, err
	}
	return cfg, nil
}

func (n *CloudRunDispatch) jobConfig(item CloudRunItem) (cloudrun.JobConfig, error) {
	d := n.defaults
	cfg := cloudrun.JobConfig{
		ProjectID:   d.ProjectID,
		Region:      d.Region,
		ServiceName: d.ServiceName,
		Image:       d.Image,
		OAuthToken:  d.OAuthToken,
		GitHubToken: d.GitHubToken,
		Model:       firstNonEmpty(item.Model, d.Model),
		Prompt:      item.Prompt,
		Memory:      firstNonEmpty(item.Memory, d.Memory),
		CPU:         firstNonEmpty(item.CPU, d.CPU),
		MaxRetries:  d.MaxRetries,
		TaskTimeout: d.TaskTimeout,
		Verbose:     d.Verbose,
		LogLimit:    d.LogLimit,
	}
	if item.MaxRetries != nil {
		cfg.MaxRetries = *item.MaxRetries
	}
	if item.Verbose != nil {
		cfg.Verbose = *item.Verbose
	}
	if item.Timeout != "" {
		timeout, err := ParseTaskTimeout(item.Timeout)
		if err != nil {
			return cloudrun.JobConfig{}, err
		}
		cfg.TaskTimeout = timeout
	}
	return cfg, nil
}

// ParseTaskTimeout accepts "3600s", "1h30m" or a bare number of seconds.
func ParseTaskTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid timeout %q: must be positive", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q: must be positive", s)
	}
	return d, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package cloudrun runs one-shot Cloud Run jobs: create, execute and wait,
// read the job's logs, and delete the job again.
package cloudrun

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
)

// Defaults applied to empty JobConfig fields.
const (
	DefaultRegion      = "us-central1"
	DefaultServiceName = "claude-code-runner"
	DefaultModel       = claude.ModelOpusPlan
	DefaultMemory      = "4Gi"
	DefaultCPU         = "2"
	DefaultTaskTimeout = time.Hour
	DefaultLogLimit    = 50

	// maxJobNameLen is Cloud Run's limit on job ids.
	maxJobNameLen = 63
)

// JobConfig is everything one dispatch needs.
type JobConfig struct {
	ProjectID   string
	Region      string
	ServiceName string
	// Image defaults to gcr.io/<project>/<service>.
	Image string

	OAuthToken  string
	GitHubToken string
	Model       string
	Prompt      string

	Memory      string
	CPU         string
	MaxRetries  int
	TaskTimeout time.Duration

	// Verbose returns a timestamp column with each log line.
	Verbose  bool
	LogLimit int
}

// WithDefaults returns a copy with empty fields filled in.
func (c JobConfig) WithDefaults() JobConfig {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.Image == "" && c.ProjectID != "" {
		c.Image = fmt.Sprintf("gcr.io/%s/%s", c.ProjectID, c.ServiceName)
	}
	if c.Model == "" {
		c.Model = string(DefaultModel)
	}
	if c.Memory == "" {
		c.Memory = DefaultMemory
	}
	if c.CPU == "" {
		c.CPU = DefaultCPU
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.LogLimit <= 0 {
		c.LogLimit = DefaultLogLimit
	}
	return c
}

// Validate reports the first missing or malformed field.
func (c JobConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ProjectID) == "" {
		missing = append(missing, "project_id")
	}
	if c.OAuthToken == "" {
		missing = append(missing, "oauth_token")
	}
	if strings.TrimSpace(c.Prompt) == "" {
		missing = append(missing, "prompt")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", claude.ErrMissingConfiguration, strings.Join(missing, ", "))
	}
	if _, err := claude.ParseModel(c.Model); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if _, err := strconv.ParseFloat(c.CPU, 64); err != nil {
		return fmt.Errorf("invalid cpu %q", c.CPU)
	}
	return nil
}

// EnvVar is one container environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// JobSpec describes the job created for a single dispatch.
type JobSpec struct {
	Name        string
	ProjectID   string
	Region      string
	Image       string
	Env         []EnvVar
	Memory      string
	CPU         string
	MaxRetries  int
	TaskTimeout time.Duration
}

// executeMargin covers scheduling and image pull on top of task run time.
const executeMargin = 15 * time.Minute

// ExecuteWait is the longest an execute-and-wait can legitimately block: every
// attempt running to its task timeout, plus a margin.
func (s JobSpec) ExecuteWait() time.Duration {
	return s.TaskTimeout*time.Duration(s.MaxRetries+1) + executeMargin
}

// Parent is the Cloud Run location the job lives under.
func (s JobSpec) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", s.ProjectID, s.Region)
}

// FullName is the job's resource name.
func (s JobSpec) FullName() string {
	return s.Parent() + "/jobs/" + s.Name
}

// BuildSpec turns a defaulted config into a job description. The env order is
// fixed: PROMPT, CLAUDE_CODE_OAUTH_TOKEN, MODEL, GITHUB_TOKEN.
func BuildSpec(c JobConfig, now time.Time) JobSpec {
	return JobSpec{
		Name:      JobName(c.ServiceName, now),
		ProjectID: c.ProjectID,
		Region:    c.Region,
		Image:     c.Image,
		Env: []EnvVar{
			{Name: claude.EnvPrompt, Value: c.Prompt},
			{Name: claude.OAuthTokenEnv, Value: c.OAuthToken},
			{Name: claude.EnvModel, Value: c.Model},
			{Name: claude.EnvGitHubToken, Value: c.GitHubToken},
		},
		Memory:      c.Memory,
		CPU:         c.CPU,
		MaxRetries:  c.MaxRetries,
		TaskTimeout: c.TaskTimeout,
	}
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// JobName derives a job id from the service name and a nanosecond timestamp:
// "<service>-job-<base36 nanos>". The result is lowercase, starts with a
// letter and fits Cloud Run's length limit.
func JobName(service string, now time.Time) string {
	base := invalidNameChars.ReplaceAllString(strings.ToLower(service), "-")
	base = strings.Trim(base, "-")
	switch {
	case base == "":
		base = DefaultServiceName
	case base[0] < 'a' || base[0] > 'z':
		base = "c-" + base
	}
	suffix := "-job-" + strconv.FormatInt(now.UnixNano(), 36)
	if len(base)+len(suffix) > maxJobNameLen {
		base = strings.TrimRight(base[:maxJobNameLen-len(suffix)], "-")
	}
	return base + suffix
}

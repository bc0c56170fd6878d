package cloudrun

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
)

func TestJobName(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)

	tests := []struct {
		name    string
		service string
		prefix  string
	}{
		{name: "plain", service: "claude-code-runner", prefix: "claude-code-runner-job-"},
		{name: "uppercase and underscores", service: "My_Service", prefix: "my-service-job-"},
		{name: "leading digit", service: "9lives", prefix: "c-9lives-job-"},
		{name: "empty", service: "", prefix: "claude-code-runner-job-"},
		{name: "symbols only", service: "!!!", prefix: "claude-code-runner-job-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JobName(tt.service, now)
			assert.True(t, strings.HasPrefix(got, tt.prefix), "got %q", got)
			assert.LessOrEqual(t, len(got), maxJobNameLen)
			assert.Regexp(t, `^[a-z][a-z0-9-]*[a-z0-9]$`, got)
		})
	}
}

func TestJobNameTruncatesLongServices(t *testing.T) {
	got := JobName(strings.Repeat("service-", 20), time.Now())
	assert.LessOrEqual(t, len(got), maxJobNameLen)
	assert.Contains(t, got, "-job-")
	assert.NotContains(t, got, "--")
}

func TestJobNameDistinctAcrossCalls(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, JobName("svc", now), JobName("svc", now.Add(time.Nanosecond)))
}

func TestWithDefaults(t *testing.T) {
	c := JobConfig{ProjectID: "p"}.WithDefaults()
	assert.Equal(t, DefaultRegion, c.Region)
	assert.Equal(t, DefaultServiceName, c.ServiceName)
	assert.Equal(t, "gcr.io/p/claude-code-runner", c.Image)
	assert.Equal(t, "opusplan", c.Model)
	assert.Equal(t, "4Gi", c.Memory)
	assert.Equal(t, "2", c.CPU)
	assert.Equal(t, time.Hour, c.TaskTimeout)
	assert.Equal(t, 50, c.LogLimit)

	custom := JobConfig{ProjectID: "p", Image: "us-docker.pkg.dev/p/r/img:1", Memory: "8Gi"}.WithDefaults()
	assert.Equal(t, "us-docker.pkg.dev/p/r/img:1", custom.Image)
	assert.Equal(t, "8Gi", custom.Memory)
}

func TestJobConfigValidate(t *testing.T) {
	base := JobConfig{ProjectID: "p", OAuthToken: "t", Prompt: "x"}.WithDefaults()
	require.NoError(t, base.Validate())

	err := JobConfig{}.WithDefaults().Validate()
	require.ErrorIs(t, err, claude.ErrMissingConfiguration)
	assert.Contains(t, err.Error(), "project_id, oauth_token, prompt")

	bad := base
	bad.MaxRetries = -1
	assert.Error(t, bad.Validate())

	bad = base
	bad.CPU = "two"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Model = "gpt"
	assert.Error(t, bad.Validate())
}

func TestJobSpecNames(t *testing.T) {
	spec := JobSpec{Name: "svc-job-x", ProjectID: "p", Region: "europe-west1"}
	assert.Equal(t, "projects/p/locations/europe-west1", spec.Parent())
	assert.Equal(t, "projects/p/locations/europe-west1/jobs/svc-job-x", spec.FullName())
}

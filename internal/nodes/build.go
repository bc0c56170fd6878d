package nodes

import (
	"context"
	"fmt"

	"google.golang.org/api/option"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/cloudrun"
	"github.com/SyntesseraAI/n8n-heroku/internal/config"
	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
)

// Set is both nodes built from one configuration.
type Set struct {
	ClaudeCode       *ClaudeCode
	CloudRunDispatch *CloudRunDispatch

	closers []func() error
}

// Close releases backend clients.
func (s *Set) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build wires the invoker, the claude runner and the selected Cloud Run
// backend from cfg.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*Set, error) {
	inv := invoke.New(invoke.WithKillGrace(cfg.Claude.KillGrace))

	runner, err := NewClaudeRunner(inv, cfg.Claude)
	if err != nil {
		return nil, err
	}
	claudeDefaults, err := ClaudeCodeDefaultsFrom(cfg.Claude)
	if err != nil {
		return nil, err
	}

	client, closer, err := NewJobClient(ctx, inv, cfg.CloudRun)
	if err != nil {
		return nil, err
	}

	s := &Set{
		ClaudeCode:       NewClaudeCode(runner, claudeDefaults, opts...),
		CloudRunDispatch: NewCloudRunDispatch(client, CloudRunDefaultsFrom(cfg.CloudRun), opts...),
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	return s, nil
}

// NewClaudeRunner builds a claude.Runner for the claude config section.
func NewClaudeRunner(inv invoke.Invoker, c config.ClaudeConfig) (*claude.Runner, error) {
	mode, err := invoke.ParseMode(c.Capture)
	if err != nil {
		return nil, err
	}
	return claude.NewRunner(inv, claude.RunnerConfig{
		Binary:     c.Binary,
		OAuthToken: c.OAuthToken,
		Mode:       mode,
	}), nil
}

// ClaudeCodeDefaultsFrom derives per-item defaults from the claude config section.
func ClaudeCodeDefaultsFrom(c config.ClaudeConfig) (ClaudeCodeDefaults, error) {
	var model claude.Model
	if c.Model != "" {
		m, err := claude.ParseModel(c.Model)
		if err != nil {
			return ClaudeCodeDefaults{}, err
		}
		model = m
	}
	return ClaudeCodeDefaults{
		Model:        model,
		MCPServers:   c.MCPServers,
		AllowedTools: c.AllowedToolsEnabled(),
		Timeout:      c.Timeout,
		WorkingDir:   c.WorkingDir,
	}, nil
}

// CloudRunDefaultsFrom derives per-item defaults and credentials from the cloudrun config section.
func CloudRunDefaultsFrom(c config.CloudRunConfig) CloudRunDefaults {
	return CloudRunDefaults{
		ProjectID:   c.ProjectID,
		Region:      c.Region,
		ServiceName: c.ServiceName,
		Image:       c.Image,
		OAuthToken:  c.OAuthToken,
		GitHubToken: c.GitHubToken,
		Model:       c.Model,
		Memory:      c.Memory,
		CPU:         c.CPU,
		TaskTimeout: c.TaskTimeout,
		MaxRetries:  c.MaxRetries,
		Verbose:     c.Verbose,
		LogLimit:    c.LogLimit,
	}
}

// NewJobClient returns the JobClient for the configured backend and an
// optional closer.
func NewJobClient(ctx context.Context, inv invoke.Invoker, c config.CloudRunConfig) (cloudrun.JobClient, func() error, error) {
	switch c.Backend {
	case "", "gcloud":
		cmd := &cloudrun.ExecCommander{Invoker: inv, Timeout: c.CommandTimeout}
		return cloudrun.NewGcloudClient(cmd, c.GcloudBinary), nil, nil
	case "api":
		var opts []option.ClientOption
		if c.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(c.Endpoint))
		}
		client, err := cloudrun.NewAPIClient(ctx, c.ProjectID, opts...)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cloudrun backend %q", c.Backend)
	}
}

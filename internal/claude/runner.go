package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
)

const (
	// DefaultTimeout bounds a single CLI run.
	DefaultTimeout = time.Hour
	// mcpAddTimeout bounds the one-off "claude mcp add" call.
	mcpAddTimeout = 2 * time.Minute
	label         = "Claude Code"
)

// RunnerConfig holds what stays fixed across runs.
type RunnerConfig struct {
	Binary     string
	OAuthToken string
	Mode       invoke.Mode
}

// Runner executes the claude CLI through an invoke.Invoker.
type Runner struct {
	invoker invoke.Invoker
	cfg     RunnerConfig
	logger  *slog.Logger
}

// NewRunner creates a Runner. An empty Binary means "claude" on PATH.
func NewRunner(inv invoke.Invoker, cfg RunnerConfig) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Mode == "" {
		cfg.Mode = invoke.ModePTY
	}
	return &Runner{
		invoker: inv,
		cfg:     cfg,
		logger:  log.WithComponent("claude").With("token_fp", log.Fingerprint(cfg.OAuthToken)),
	}
}

// RunRequest is one CLI run.
type RunRequest struct {
	Options
	Timeout time.Duration
	Dir     string
	// Output receives raw output while the CLI runs.
	Output io.Writer
}

// Run executes the CLI and returns its output with terminal control
// sequences removed.
func (r *Runner) Run(ctx context.Context, req RunRequest) (string, error) {
	if r.cfg.OAuthToken == "" {
		return "", fmt.Errorf("%w: claude OAuth token is required", ErrMissingConfiguration)
	}
	if err := req.Options.Validate(); err != nil {
		return "", err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.logger.Info("running claude", "model", req.Model, "mcp_servers", len(req.MCPServers), "timeout", timeout)
	res, err := r.invoker.Invoke(ctx, invoke.Request{
		Executable: r.cfg.Binary,
		Args:       BuildArgs(req.Options),
		Env:        map[string]string{OAuthTokenEnv: r.cfg.OAuthToken},
		Dir:        req.Dir,
		Timeout:    timeout,
		Mode:       r.cfg.Mode,
		StripANSI:  true,
		Output:     req.Output,
		Label:      label,
	})
	if err != nil {
		var spawnErr *invoke.SpawnError
		if errors.As(err, &spawnErr) {
			return "", fmt.Errorf("failed to execute %s: %w", label, err)
		}
		return "", err
	}
	r.logger.Info("claude finished", "duration", res.Duration, "output_bytes", len(res.Output))
	return res.Output, nil
}

// RegisterGitHubMCP adds the remote GitHub MCP server to the CLI's
// configuration using githubToken as bearer credential.
func (r *Runner) RegisterGitHubMCP(ctx context.Context, githubToken string) error {
	if githubToken == "" {
		return fmt.Errorf("%w: github token is required", ErrMissingConfiguration)
	}
	_, err := r.invoker.Invoke(ctx, invoke.Request{
		Executable: r.cfg.Binary,
		Args: []string{
			"mcp", "add",
			"--transport", "http",
			"github", GitHubMCPURL,
			"-H", "Authorization: Bearer " + githubToken,
		},
		Env:       map[string]string{OAuthTokenEnv: r.cfg.OAuthToken},
		Timeout:   mcpAddTimeout,
		Mode:      r.cfg.Mode,
		StripANSI: true,
		Label:     label + " MCP setup",
	})
	if err != nil {
		return fmt.Errorf("register github MCP server: %w", err)
	}
	return nil
}

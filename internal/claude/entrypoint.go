package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
)

// Environment variables read by the container entrypoint.
const (
	EnvPrompt      = "PROMPT"
	EnvModel       = "MODEL"
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvTimeout     = "CLAUDE_TIMEOUT"
	EnvBinary      = "CLAUDE_BINARY"
)

// EntrypointModel is used when MODEL is unset.
const EntrypointModel = ModelOpusPlan

// EntrypointMCPServers is the fixed server list enabled inside the container.
var EntrypointMCPServers = []string{"mcp__github", "mcp__mermaidchart", "mcp__codacy", "mcp__context7", "mcp__shadcn"}

// EntrypointEnv is the container's view of its environment.
type EntrypointEnv struct {
	Prompt      string
	Model       string
	OAuthToken  string
	GitHubToken string
	Binary      string
	Timeout     time.Duration
}

// EntrypointEnvFrom reads the entrypoint variables through lookup, which is
// normally os.LookupEnv.
func EntrypointEnvFrom(lookup func(string) (string, bool)) (EntrypointEnv, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return v
	}
	env := EntrypointEnv{
		Prompt:      get(EnvPrompt),
		Model:       get(EnvModel),
		OAuthToken:  get(OAuthTokenEnv),
		GitHubToken: get(EnvGitHubToken),
		Binary:      get(EnvBinary),
		Timeout:     DefaultTimeout,
	}
	if env.Model == "" {
		env.Model = string(EntrypointModel)
	}
	if raw := get(EnvTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return env, fmt.Errorf("invalid %s %q: want a positive duration such as 45m", EnvTimeout, raw)
		}
		env.Timeout = d
	}
	return env, nil
}

// RunEntrypoint is the body of the Cloud Run container: it optionally
// registers the GitHub MCP server, runs the CLI on a pseudo-terminal while
// streaming its output to stdout, and returns the process exit code.
func RunEntrypoint(ctx context.Context, inv invoke.Invoker, env EntrypointEnv, stdout, stderr io.Writer) int {
	if env.Prompt == "" {
		fmt.Fprintf(stderr, "Error: %s environment variable is required\n", EnvPrompt)
		return 1
	}
	if env.OAuthToken == "" {
		fmt.Fprintf(stderr, "Error: %s environment variable is required\n", OAuthTokenEnv)
		return 1
	}

	runner := NewRunner(inv, RunnerConfig{Binary: env.Binary, OAuthToken: env.OAuthToken, Mode: invoke.ModePTY})

	if env.GitHubToken != "" {
		fmt.Fprintln(stdout, "Configuring GitHub MCP server...")
		if err := runner.RegisterGitHubMCP(ctx, env.GitHubToken); err != nil {
			runner.logger.Warn("github MCP registration failed", "error", err)
			fmt.Fprintln(stdout, "GitHub MCP server configuration failed, continuing without it...")
		}
	}

	fmt.Fprintf(stdout, "Executing Claude Code with model: %s\n", env.Model)
	_, err := runner.Run(ctx, RunRequest{
		Options: Options{
			Model:        Model(env.Model),
			Prompt:       env.Prompt,
			MCPServers:   EntrypointMCPServers,
			AllowedTools: true,
		},
		Timeout: env.Timeout,
		Output:  stdout,
	})
	if err == nil {
		fmt.Fprintln(stdout, "\n--- Claude Code execution completed successfully ---")
		return 0
	}

	var exitErr *invoke.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("\nClaude Code exited with code %d", exitErr.ExitCode)
		if exitErr.Signal != "" {
			msg += fmt.Sprintf(" (signal: %s)", exitErr.Signal)
		}
		fmt.Fprintln(stderr, msg)
		if exitErr.ExitCode > 0 {
			return exitErr.ExitCode
		}
		return 1
	}

	var spawnErr *invoke.SpawnError
	if errors.As(err, &spawnErr) {
		fmt.Fprintf(stderr, "Error spawning Claude Code: %v\n", spawnErr.Err)
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

// Package claude knows how to drive the claude CLI: which arguments to pass,
// which environment it needs, and how to run it inside a Cloud Run container.
package claude

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultBinary is looked up on PATH when no binary is configured.
	DefaultBinary = "claude"
	// OAuthTokenEnv carries the CLI credential into the child process.
	OAuthTokenEnv = "CLAUDE_CODE_OAUTH_TOKEN"
	// GitHubMCPURL is the remote GitHub MCP endpoint registered by the runner.
	GitHubMCPURL = "https://api.githubcopilot.com/mcp"

	mcpPrefix = "mcp__"
)

// ErrMissingConfiguration is returned when a required credential or parameter
// is absent. Nothing is spawned or created when it is returned.
var ErrMissingConfiguration = errors.New("missing configuration")

// Model is a claude CLI model alias.
type Model string

const (
	ModelSonnet   Model = "sonnet"
	ModelOpus     Model = "opus"
	ModelOpusPlan Model = "opusplan"
	ModelHaiku    Model = "haiku"
)

// Models lists the aliases offered to users, in display order.
var Models = []Model{ModelSonnet, ModelOpus, ModelOpusPlan, ModelHaiku}

// ParseModel accepts one of Models, case-insensitively.
func ParseModel(s string) (Model, error) {
	v := strings.TrimSpace(s)
	for _, m := range Models {
		if strings.EqualFold(v, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown model %q (want one of sonnet, opus, opusplan, haiku)", s)
}

// DefaultMCPServers returns the MCP tool servers enabled when the caller does
// not choose any.
func DefaultMCPServers() []string {
	return []string{"mcp__github", "mcp__codacy", "mcp__context7", "mcp__mermaidchart", "mcp__shadcn"}
}

// ParseMCPServers splits a whitespace separated list such as
// "mcp__github  mcp__codacy".
func ParseMCPServers(s string) []string {
	return strings.Fields(s)
}

// Options are the user-facing knobs of one CLI run.
type Options struct {
	Model      Model
	Prompt     string
	MCPServers []string
	// AllowedTools emits the bare --allowedTools flag.
	AllowedTools bool
}

// Validate checks the options before anything is spawned.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrMissingConfiguration)
	}
	if _, err := ParseModel(string(o.Model)); err != nil {
		return err
	}
	for _, s := range o.MCPServers {
		if !strings.HasPrefix(s, mcpPrefix) {
			return fmt.Errorf("invalid MCP server %q: must start with %s", s, mcpPrefix)
		}
	}
	return nil
}

// BuildArgs renders the options as CLI arguments:
//
//	[--allowedTools] --model <model> [mcp__...]... -p <prompt>
//
// The prompt is always a single argument.
func BuildArgs(o Options) []string {
	args := make([]string, 0, len(o.MCPServers)+5)
	if o.AllowedTools {
		args = append(args, "--allowedTools")
	}
	args = append(args, "--model", string(o.Model))
	args = append(args, o.MCPServers...)
	args = append(args, "-p", o.Prompt)
	return args
}

package nodes

import (
	"context"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

// ClaudeRunner runs the claude CLI. *claude.Runner implements it.
type ClaudeRunner interface {
	Run(ctx context.Context, req claude.RunRequest) (string, error)
}

// ClaudeCodeItem is one input of the ClaudeCode node.
type ClaudeCodeItem struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	// MCPServers nil means the defaults; an empty list means none.
	MCPServers       []string `json:"mcp_servers,omitempty"`
	AllowedTools     *bool    `json:"allowed_tools,omitempty"`
	TimeoutSeconds   int      `json:"timeout_seconds,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
}

// ClaudeCodeDefaults fill in what an item leaves empty.
type ClaudeCodeDefaults struct {
	Model        claude.Model
	MCPServers   []string
	AllowedTools bool
	Timeout      time.Duration
	// WorkingDir empty means the process working directory.
	WorkingDir string
}

// ClaudeCode runs the claude CLI locally for each item.
type ClaudeCode struct {
	runner   ClaudeRunner
	defaults ClaudeCodeDefaults
	tracker  *tracker
}

// NewClaudeCode creates a ClaudeCode node that runs items through r.
func NewClaudeCode(r ClaudeRunner, defaults ClaudeCodeDefaults, opts ...Option) *ClaudeCode {
	if defaults.Model == "" {
		defaults.Model = claude.ModelSonnet
	}
	if defaults.MCPServers == nil {
		defaults.MCPServers = claude.DefaultMCPServers()
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = claude.DefaultTimeout
	}
	return &ClaudeCode{runner: r, defaults: defaults, tracker: newTracker(runs.KindClaudeCode, opts)}
}

// Execute runs items sequentially.
func (n *ClaudeCode) Execute(ctx context.Context, items []ClaudeCodeItem, continueOnFail bool) ([]Result, error) {
	return runBatch(ctx, items, continueOnFail, n.executeItem)
}

func (n *ClaudeCode) executeItem(ctx context.Context, batchID string, index int, item ClaudeCodeItem) (Result, error) {
	req, err := n.request(item)
	if err != nil {
		return Result{}, err
	}

	runID, out, err := n.tracker.track(ctx, batchID, index, string(req.Model), req.Prompt,
		func(ctx context.Context, _ string) (outcome, error) {
			output, err := n.runner.Run(ctx, req)
			return outcome{output: output}, err
		})
	if err != nil {
		return Result{RunID: runID}, err
	}
	return Result{
		Model:  string(req.Model),
		Prompt: req.Prompt,
		Output: out.output,
		RunID:  runID,
	}, nil
}

func (n *ClaudeCode) request(item ClaudeCodeItem) (claude.RunRequest, error) {
	model := n.defaults.Model
	if item.Model != "" {
		m, err := claude.ParseModel(item.Model)
		if err != nil {
			return claude.RunRequest{}, err
		}
		model = m
	}

	servers := n.defaults.MCPServers
	if item.MCPServers != nil {
		servers = item.MCPServers
	}
	allowed := n.defaults.AllowedTools
	if item.AllowedTools != nil {
		allowed = *item.AllowedTools
	}
	timeout := n.defaults.Timeout
	if item.TimeoutSeconds > 0 {
		timeout = time.Duration(item.TimeoutSeconds) * time.Second
	}
	dir := n.defaults.WorkingDir
	if item.WorkingDirectory != "" {
		dir = item.WorkingDirectory
	}

	req := claude.RunRequest{
		Options: claude.Options{
			Model:        model,
			Prompt:       item.Prompt,
			MCPServers:   append([]string(nil), servers...),
			AllowedTools: allowed,
		},
		Timeout: timeout,
		Dir:     dir,
	}
	if err := req.Options.Validate(); err != nil {
		return claude.RunRequest{}, err
	}
	return req, nil
}

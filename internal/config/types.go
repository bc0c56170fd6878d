package config

import "time"

// Config represents the complete claudegw configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`
	Claude   ClaudeConfig   `yaml:"claude"`
	CloudRun CloudRunConfig `yaml:"cloudrun"`

	// SourcePath and SourceHash identify the file the config was loaded from.
	SourcePath string `yaml:"-"`
	SourceHash string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines run history storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
	// OutputLimit caps how many bytes of output are kept per run.
	OutputLimit int `yaml:"output_limit"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// MaxConcurrent bounds node batches running at once; further requests get 503.
	MaxConcurrent int           `yaml:"max_concurrent"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// ClaudeConfig configures local CLI runs.
type ClaudeConfig struct {
	Binary      string   `yaml:"binary"`
	OAuthToken  string   `yaml:"oauth_token"`
	GitHubToken string   `yaml:"github_token"`
	Model       string   `yaml:"model"`
	MCPServers  []string `yaml:"mcp_servers"`
	// AllowedTools is a pointer so an explicit false survives defaulting.
	AllowedTools *bool         `yaml:"allowed_tools"`
	Capture      string        `yaml:"capture"`
	Timeout      time.Duration `yaml:"timeout"`
	KillGrace    time.Duration `yaml:"kill_grace"`
	WorkingDir   string        `yaml:"working_dir"`
}

// CloudRunConfig configures remote job dispatch.
type CloudRunConfig struct {
	// Backend is "gcloud" (shell out) or "api" (client libraries).
	Backend      string `yaml:"backend"`
	GcloudBinary string `yaml:"gcloud_binary"`
	// Endpoint overrides the API endpoint for the api backend.
	Endpoint string `yaml:"endpoint"`

	ProjectID   string `yaml:"project_id"`
	Region      string `yaml:"region"`
	ServiceName string `yaml:"service_name"`
	Image       string `yaml:"image"`

	// Tokens fall back to the claude section when empty.
	OAuthToken  string `yaml:"oauth_token"`
	GitHubToken string `yaml:"github_token"`

	Model          string        `yaml:"model"`
	Memory         string        `yaml:"memory"`
	CPU            string        `yaml:"cpu"`
	TaskTimeout    time.Duration `yaml:"task_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	Verbose        bool          `yaml:"verbose"`
	LogLimit       int           `yaml:"log_limit"`
	// CommandTimeout bounds each gcloud call. Execute-and-wait is raised to
	// cover task_timeout for every attempt.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// AllowedToolsEnabled reports the effective allowed_tools setting.
func (c ClaudeConfig) AllowedToolsEnabled() bool {
	return c.AllowedTools == nil || *c.AllowedTools
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	allowed := true
	return &Config{
		Service: ServiceConfig{
			Name:      "claudegw",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path:        "./data/claudegw.db",
			OutputLimit: 1 << 20,
		},
		API: APIConfig{
			Enabled:       false,
			Listen:        "localhost:8080",
			MaxConcurrent: 4,
			WriteTimeout:  2 * time.Hour,
		},
		Claude: ClaudeConfig{
			Binary:       "claude",
			Model:        "sonnet",
			MCPServers:   []string{"mcp__github", "mcp__codacy", "mcp__context7", "mcp__mermaidchart", "mcp__shadcn"},
			AllowedTools: &allowed,
			Capture:      "pty",
			Timeout:      time.Hour,
			KillGrace:    5 * time.Second,
		},
		CloudRun: CloudRunConfig{
			Backend:        "gcloud",
			GcloudBinary:   "gcloud",
			Region:         "us-central1",
			ServiceName:    "claude-code-runner",
			Model:          "opusplan",
			Memory:         "4Gi",
			CPU:            "2",
			TaskTimeout:    time.Hour,
			MaxRetries:     0,
			LogLimit:       50,
			CommandTimeout: 10 * time.Minute,
		},
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates a config file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	cfg.SourceHash = HashBytes(data)
	return cfg, nil
}

// Parse builds a validated Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.OutputLimit == 0 {
		cfg.State.OutputLimit = defaults.State.OutputLimit
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxConcurrent == 0 {
		cfg.API.MaxConcurrent = defaults.API.MaxConcurrent
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = defaults.API.WriteTimeout
	}

	c := &cfg.Claude
	if c.Binary == "" {
		c.Binary = defaults.Claude.Binary
	}
	if c.Model == "" {
		c.Model = defaults.Claude.Model
	}
	if c.MCPServers == nil {
		c.MCPServers = defaults.Claude.MCPServers
	}
	if c.AllowedTools == nil {
		c.AllowedTools = defaults.Claude.AllowedTools
	}
	if c.Capture == "" {
		c.Capture = defaults.Claude.Capture
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Claude.Timeout
	}
	if c.KillGrace == 0 {
		c.KillGrace = defaults.Claude.KillGrace
	}

	r := &cfg.CloudRun
	d := defaults.CloudRun
	if r.Backend == "" {
		r.Backend = d.Backend
	}
	if r.GcloudBinary == "" {
		r.GcloudBinary = d.GcloudBinary
	}
	if r.Region == "" {
		r.Region = d.Region
	}
	if r.ServiceName == "" {
		r.ServiceName = d.ServiceName
	}
	if r.OAuthToken == "" {
		r.OAuthToken = c.OAuthToken
	}
	if r.GitHubToken == "" {
		r.GitHubToken = c.GitHubToken
	}
	if r.Model == "" {
		r.Model = d.Model
	}
	if r.Memory == "" {
		r.Memory = d.Memory
	}
	if r.CPU == "" {
		r.CPU = d.CPU
	}
	if r.TaskTimeout == 0 {
		r.TaskTimeout = d.TaskTimeout
	}
	if r.LogLimit == 0 {
		r.LogLimit = d.LogLimit
	}
	if r.CommandTimeout == 0 {
		r.CommandTimeout = d.CommandTimeout
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// unresolved reports the first ${VAR} left in a value after interpolation.
func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.OutputLimit < 0 {
		return fmt.Errorf("state.output_limit must be >= 0")
	}

	if cfg.API.Enabled {
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when api is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.MaxConcurrent < 1 {
			return fmt.Errorf("api.max_concurrent must be positive")
		}
	}

	for field, value := range map[string]string{
		"claude.oauth_token":    cfg.Claude.OAuthToken,
		"claude.github_token":   cfg.Claude.GitHubToken,
		"cloudrun.oauth_token":  cfg.CloudRun.OAuthToken,
		"cloudrun.github_token": cfg.CloudRun.GitHubToken,
		"cloudrun.project_id":   cfg.CloudRun.ProjectID,
	} {
		if err := unresolved(field, value); err != nil {
			return err
		}
	}

	if _, err := claude.ParseModel(cfg.Claude.Model); err != nil {
		return fmt.Errorf("claude.model: %w", err)
	}
	for _, s := range cfg.Claude.MCPServers {
		if !strings.HasPrefix(s, "mcp__") {
			return fmt.Errorf("claude.mcp_servers: %q must start with mcp__", s)
		}
	}
	if _, err := invoke.ParseMode(cfg.Claude.Capture); err != nil {
		return fmt.Errorf("claude.capture: %w", err)
	}
	if cfg.Claude.Timeout < 0 || cfg.Claude.KillGrace < 0 {
		return fmt.Errorf("claude.timeout and claude.kill_grace must be positive")
	}

	switch cfg.CloudRun.Backend {
	case "gcloud", "api":
	default:
		return fmt.Errorf("cloudrun.backend must be gcloud or api (got %q)", cfg.CloudRun.Backend)
	}
	if _, err := claude.ParseModel(cfg.CloudRun.Model); err != nil {
		return fmt.Errorf("cloudrun.model: %w", err)
	}
	if cfg.CloudRun.MaxRetries < 0 {
		return fmt.Errorf("cloudrun.max_retries must be >= 0")
	}
	if cfg.CloudRun.LogLimit < 0 {
		return fmt.Errorf("cloudrun.log_limit must be >= 0")
	}
	if cfg.CloudRun.TaskTimeout < 0 || cfg.CloudRun.CommandTimeout < 0 {
		return fmt.Errorf("cloudrun.task_timeout and cloudrun.command_timeout must be positive")
	}

	return nil
}

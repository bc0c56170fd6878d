// Package doctor checks that a loaded claudegw configuration can actually run
// on this host: binaries on PATH, credentials present, state on local disk.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/SyntesseraAI/n8n-heroku/internal/config"
	"github.com/SyntesseraAI/n8n-heroku/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration against the host.
type Doctor struct {
	cfg        *config.Config
	lookPath   func(string) (string, error)
	checkState func(string) error
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, checkState: storage.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateState(r)
	d.validateAPI(r)
	d.validateClaude(r)
	d.validateCloudRun(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateState(r *Result) {
	path := d.cfg.State.Path
	if path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
		return
	}
	if err := d.checkState(path); err != nil {
		var nfs *storage.NetworkFilesystemError
		if errors.As(err, &nfs) {
			d.addError(r, "state", "state.path", err.Error())
		} else {
			d.addWarning(r, "state", "state.path", fmt.Sprintf("could not inspect filesystem: %v", err))
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			d.addError(r, "state", "state.path", fmt.Sprintf("%s is not a directory", dir))
		}
	}
}

func (d *Doctor) validateAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if len(d.cfg.API.Auth.APIKey) < 16 {
		d.addWarning(r, "api", "api.auth.api_key", "API key is shorter than 16 characters")
	}
	if d.cfg.API.WriteTimeout > 0 && d.cfg.Claude.Timeout > d.cfg.API.WriteTimeout {
		d.addWarning(r, "api", "api.write_timeout",
			fmt.Sprintf("write_timeout %s is shorter than claude.timeout %s; long runs will lose their response", d.cfg.API.WriteTimeout, d.cfg.Claude.Timeout))
	}
}

func (d *Doctor) validateClaude(r *Result) {
	c := d.cfg.Claude
	if c.OAuthToken == "" {
		d.addWarning(r, "claude", "claude.oauth_token", "no OAuth token; claude-code runs will fail with missing configuration")
	}
	if _, err := d.lookPath(c.Binary); err != nil {
		d.addWarning(r, "claude", "claude.binary", fmt.Sprintf("%q not found on PATH", c.Binary))
	}
	if c.WorkingDir != "" {
		info, err := os.Stat(c.WorkingDir)
		switch {
		case err != nil:
			d.addError(r, "claude", "claude.working_dir", fmt.Sprintf("working directory %q: %v", c.WorkingDir, err))
		case !info.IsDir():
			d.addError(r, "claude", "claude.working_dir", fmt.Sprintf("%q is not a directory", c.WorkingDir))
		}
	}
}

func (d *Doctor) validateCloudRun(r *Result) {
	c := d.cfg.CloudRun
	if strings.TrimSpace(c.ProjectID) == "" {
		d.addWarning(r, "cloudrun", "cloudrun.project_id", "no project_id; cloud-run-dispatch runs will fail with missing configuration")
	}
	if c.OAuthToken == "" {
		d.addWarning(r, "cloudrun", "cloudrun.oauth_token", "no OAuth token for Cloud Run jobs")
	}
	if c.Backend == "gcloud" {
		if _, err := d.lookPath(c.GcloudBinary); err != nil {
			d.addWarning(r, "cloudrun", "cloudrun.gcloud_binary", fmt.Sprintf("%q not found on PATH", c.GcloudBinary))
		}
	}
	if c.Backend == "api" && c.Endpoint == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		d.addWarning(r, "cloudrun", "cloudrun.backend",
			"api backend without GOOGLE_APPLICATION_CREDENTIALS relies on ambient credentials")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

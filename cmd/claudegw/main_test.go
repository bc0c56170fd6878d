package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/config"
	"github.com/SyntesseraAI/n8n-heroku/internal/lock"
	"github.com/SyntesseraAI/n8n-heroku/internal/nodes"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCLIForTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

// testEnv writes a config pointing at fake claude and gcloud executables in a
// temp dir and returns the config path and the dir.
func testEnv(t *testing.T, claudeBody, gcloudBody string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	writeScript(t, filepath.Join(dir, "claude"), claudeBody)
	writeScript(t, filepath.Join(dir, "gcloud"), gcloudBody)

	cfg := `service:
  log_level: warn
state:
  path: ` + filepath.Join(dir, "state.db") + `
claude:
  binary: ` + filepath.Join(dir, "claude") + `
  oauth_token: test-oauth-secret
  capture: pipes
cloudrun:
  gcloud_binary: ` + filepath.Join(dir, "gcloud") + `
  project_id: proj
  region: europe-west1
`
	path := filepath.Join(dir, "claudegw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path, dir
}

const echoArgs = `echo "token=$CLAUDE_CODE_OAUTH_TOKEN"
for a in "$@"; do echo "$a"; done
`

func TestRunCLIUsage(t *testing.T) {
	code, stdout, _ := runCLIForTest(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "claudegw <command>")

	code, stdout, _ = runCLIForTest(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "dispatch <prompt>")

	code, _, stderr := runCLIForTest(t, "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: bogus")

	code, _, stderr = runCLIForTest(t, "run", "delete")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown run action: delete")
}

func TestVersionJSON(t *testing.T) {
	origVersion, origCommit, origBuild := version, gitCommit, buildDate
	t.Cleanup(func() { version, gitCommit, buildDate = origVersion, origCommit, origBuild })
	version, gitCommit, buildDate = "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05+02:00"

	code, stdout, _ := runCLIForTest(t, "version", "--json")
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, versionInfo{Version: "1.2.3", Commit: "0123456789ab", BuildTime: "2026-01-02T01:04:05Z"}, info)
}

func TestInvokeRunsCLIAndRecordsRun(t *testing.T) {
	cfgPath, _ := testEnv(t, echoArgs, "exit 0\n")

	code, stdout, stderr := runCLIForTest(t, "invoke", "--config", cfgPath, "--model", "haiku", "--mcp", "mcp__github", "write a haiku")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "token=test-oauth-secret\n--allowedTools\n--model\nhaiku\nmcp__github\n-p\nwrite a haiku\n", stdout)

	code, stdout, stderr = runCLIForTest(t, "run", "list", "--config", cfgPath, "--json")
	require.Equal(t, 0, code, stderr)
	var list []runs.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &list))
	require.Len(t, list, 1)
	assert.Equal(t, runs.KindClaudeCode, list[0].Kind)
	assert.Equal(t, runs.StatusSucceeded, list[0].Status)
	assert.Equal(t, "haiku", list[0].Model)

	code, stdout, stderr = runCLIForTest(t, "run", "inspect", list[0].ID, "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Status:   succeeded")
	assert.Contains(t, stdout, "write a haiku")
}

func TestInvokeFlagsOverrideDefaults(t *testing.T) {
	cfgPath, _ := testEnv(t, echoArgs, "exit 0\n")

	code, stdout, stderr := runCLIForTest(t, "invoke", "--config", cfgPath, "--no-tools", "--mcp", "", "--no-record", "--json", "hi")
	require.Equal(t, 0, code, stderr)

	var res nodes.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "sonnet", res.Model)
	assert.Equal(t, "token=test-oauth-secret\n--model\nsonnet\n-p\nhi\n", res.Output)
	assert.Empty(t, res.RunID)
}

func TestInvokeReadsPromptFromStdin(t *testing.T) {
	cfgPath, _ := testEnv(t, echoArgs, "exit 0\n")
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("from stdin\n")

	code, stdout, stderr := runCLIForTest(t, "invoke", "--config", cfgPath, "--no-record", "-")
	require.Equal(t, 0, code, stderr)
	assert.True(t, strings.HasSuffix(stdout, "-p\nfrom stdin\n"), stdout)
}

func TestInvokePassesThroughExitCode(t *testing.T) {
	cfgPath, _ := testEnv(t, "echo 'rate limited' >&2\nexit 3\n", "exit 0\n")

	code, _, stderr := runCLIForTest(t, "invoke", "--config", cfgPath, "--no-record", "hello")
	assert.Equal(t, 3, code)
	assert.Contains(t, stderr, "exited with code 3")
	assert.Contains(t, stderr, "rate limited")
}

func TestInvokeRequiresPrompt(t *testing.T) {
	cfgPath, _ := testEnv(t, echoArgs, "exit 0\n")
	code, _, stderr := runCLIForTest(t, "invoke", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "a prompt is required")
}

func TestDispatchDryRunRedactsSecrets(t *testing.T) {
	cfgPath, dir := testEnv(t, echoArgs, "exit 0\n")

	code, stdout, stderr := runCLIForTest(t, "dispatch", "--config", cfgPath, "--dry-run", "--memory", "8Gi", "--max-retries", "2", "review, then fix")
	require.Equal(t, 0, code, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "gcloud run jobs create claude-code-runner-job-")
	assert.Contains(t, lines[0], "--memory=8Gi")
	assert.Contains(t, lines[0], "--max-retries=2")
	assert.Contains(t, lines[0], "--region=europe-west1")
	assert.Contains(t, lines[1], "run jobs execute")
	assert.Contains(t, lines[2], "logging read")
	assert.Contains(t, lines[3], "run jobs delete")
	assert.NotContains(t, stdout, "test-oauth-secret")

	_, err := os.Stat(filepath.Join(dir, "state.db"))
	assert.True(t, os.IsNotExist(err), "dry run must not open run history")
}

func TestDispatchWithFakeGcloud(t *testing.T) {
	gcloud := `echo "$1 $2 $3" >> "$(dirname "$0")/calls"
case "$1 $2" in
  "logging read") printf 'line one\n\n\033[32mline two\033[0m\n' ;;
esac
exit 0
`
	cfgPath, dir := testEnv(t, echoArgs, gcloud)

	code, stdout, stderr := runCLIForTest(t, "dispatch", "--config", cfgPath, "--json", "ship it")
	require.Equal(t, 0, code, stderr)

	var res nodes.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "line one\nline two", res.Output)
	assert.Equal(t, "opusplan", res.Model)
	assert.Equal(t, "proj", res.ProjectID)
	assert.NotEmpty(t, res.JobName)

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)
	assert.Equal(t, "run jobs create\nrun jobs execute\nlogging read "+`resource.type="cloud_run_job" AND resource.labels.job_name="`+res.JobName+`"`+"\nrun jobs delete\n", string(calls))
}

func TestDispatchFailureStillDeletes(t *testing.T) {
	gcloud := `echo "$3" >> "$(dirname "$0")/calls"
[ "$3" = "execute" ] && { echo "task failed" >&2; exit 1; }
exit 0
`
	cfgPath, dir := testEnv(t, echoArgs, gcloud)

	code, _, stderr := runCLIForTest(t, "dispatch", "--config", cfgPath, "go")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "task failed")

	calls, err := os.ReadFile(filepath.Join(dir, "calls"))
	require.NoError(t, err)
	assert.Equal(t, "create\nexecute\ndelete\n", string(calls))
}

func TestRunnerRequiresPrompt(t *testing.T) {
	t.Setenv("PROMPT", "")
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "x")
	code, _, stderr := runCLIForTest(t, "runner")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "PROMPT environment variable is required")
}

func TestRunnerRunsEntrypoint(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "claude")
	writeScript(t, bin, "echo \"ran with $3\"\n")
	t.Setenv("PROMPT", "hello")
	t.Setenv("MODEL", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "x")
	t.Setenv("CLAUDE_BINARY", bin)
	t.Setenv("CLAUDE_TIMEOUT", "30s")

	code, stdout, stderr := runCLIForTest(t, "runner")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Executing Claude Code with model: opusplan")
	assert.Contains(t, stdout, "ran with opusplan")
	assert.Contains(t, stdout, "execution completed successfully")
}

func TestRunnerRejectsBadTimeout(t *testing.T) {
	t.Setenv("CLAUDE_TIMEOUT", "soon")
	code, _, stderr := runCLIForTest(t, "runner")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "CLAUDE_TIMEOUT")
}

func TestRunInspectNotFound(t *testing.T) {
	cfgPath, _ := testEnv(t, echoArgs, "exit 0\n")
	code, _, stderr := runCLIForTest(t, "run", "inspect", "missing", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Run not found: missing")
}

func TestConfigCheck(t *testing.T) {
	cfgPath, _ := testEnv(t, echoArgs, "exit 0\n")

	code, stdout, stderr := runCLIForTest(t, "config", "check", "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "Configuration valid.\n", stdout)

	missing := filepath.Join(t.TempDir(), "claudegw.yaml")
	require.NoError(t, os.WriteFile(missing, []byte("state:\n  path: "+filepath.Join(t.TempDir(), "s.db")+"\nclaude:\n  binary: /nonexistent/claude\n"), 0o600))
	code, stdout, _ = runCLIForTest(t, "config", "check", "--config", missing, "--strict", "--json")
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, `"claude.binary"`)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfgPath, _ := testEnv(t, echoArgs, "exit 0\n")

	code, stdout, stderr := runCLIForTest(t, "config", "show", "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stdout, "test-oauth-secret")
	assert.Contains(t, stdout, "[REDACTED] blake3:")
	assert.Contains(t, stdout, "project_id: proj")
}

func TestLoadConfigForToolFallsBackToEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(envConfigPath, "")
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "env-oauth")
	t.Setenv("GITHUB_TOKEN", "env-gh")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "env-proj")

	cfg, err := loadConfigForTool("")
	require.NoError(t, err)
	assert.Equal(t, "env-oauth", cfg.Claude.OAuthToken)
	assert.Equal(t, "env-oauth", cfg.CloudRun.OAuthToken)
	assert.Equal(t, "env-gh", cfg.CloudRun.GitHubToken)
	assert.Equal(t, "env-proj", cfg.CloudRun.ProjectID)
	assert.Equal(t, "sonnet", cfg.Claude.Model)
}

func TestRestartRequired(t *testing.T) {
	prev := config.Defaults()
	next := config.Defaults()
	assert.Empty(t, restartRequired(prev, next))

	next.Claude.Model = "opus"
	assert.Empty(t, restartRequired(prev, next))

	next.API.Listen = ":9999"
	next.State.Path = "/elsewhere.db"
	assert.Equal(t, []string{"state.path", "api.listen"}, restartRequired(prev, next))
}

type fakeClaudeNode struct{ name string }

func (f fakeClaudeNode) Run(_ context.Context, req claude.RunRequest) (string, error) {
	return f.name + ":" + req.Prompt, nil
}

func TestLiveNodesSwap(t *testing.T) {
	live := &liveNodes{}
	live.swap(&nodes.Set{ClaudeCode: nodes.NewClaudeCode(fakeClaudeNode{"a"}, nodes.ClaudeCodeDefaults{})})
	front := claudeCodeFront{live}

	res, err := front.Execute(context.Background(), []nodes.ClaudeCodeItem{{Prompt: "p"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "a:p", res[0].Output)

	live.swap(&nodes.Set{ClaudeCode: nodes.NewClaudeCode(fakeClaudeNode{"b"}, nodes.ClaudeCodeDefaults{})})
	res, err = front.Execute(context.Background(), []nodes.ClaudeCodeItem{{Prompt: "p"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "b:p", res[0].Output)

	assert.Len(t, live.retired, 1)
	assert.NoError(t, live.Close())
}

func TestStartRefusesLockedState(t *testing.T) {
	cfgPath, dir := testEnv(t, echoArgs, "exit 0\n")
	held, err := lock.AcquireState(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	code, stdout, _ := runCLIForTest(t, "system", "start", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "state is locked by pid")
}

func TestStartRequiresConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(envConfigPath, "")
	code, _, stderr := runCLIForTest(t, "system", "start")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "No configuration found")
}

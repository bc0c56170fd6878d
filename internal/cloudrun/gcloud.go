package cloudrun

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kballard/go-shellquote"

	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
)

// DefaultGcloudBinary is looked up on PATH when no binary is configured.
const DefaultGcloudBinary = "gcloud"

// Commander runs a command and returns its stdout. A positive timeout bounds
// that one command; zero leaves the commander's own bound in place.
type Commander interface {
	Run(ctx context.Context, name string, args []string, timeout time.Duration) (string, error)
}

// ExecCommander runs commands as child processes in pipes mode. Arguments are
// passed as argv, never through a shell. Timeout is the bound for commands
// that do not ask for a longer one.
type ExecCommander struct {
	Invoker invoke.Invoker
	Timeout time.Duration
	Env     map[string]string
}

// Run implements Commander.
func (c *ExecCommander) Run(ctx context.Context, name string, args []string, timeout time.Duration) (string, error) {
	res, err := c.Invoker.Invoke(ctx, invoke.Request{
		Executable: name,
		Args:       args,
		Env:        c.Env,
		Timeout:    max(c.Timeout, timeout),
		Mode:       invoke.ModePipes,
	})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// GcloudClient implements JobClient by shelling out to the gcloud CLI.
type GcloudClient struct {
	binary string
	cmd    Commander
	logger *slog.Logger
}

// NewGcloudClient creates a GcloudClient. An empty binary means "gcloud" on PATH.
func NewGcloudClient(cmd Commander, binary string) *GcloudClient {
	if binary == "" {
		binary = DefaultGcloudBinary
	}
	return &GcloudClient{binary: binary, cmd: cmd, logger: log.WithComponent("gcloud")}
}

// CreateJob implements JobClient.
func (g *GcloudClient) CreateJob(ctx context.Context, spec JobSpec) error {
	_, err := g.run(ctx, CreateArgs(spec), secretValues(spec), 0)
	return err
}

// ExecuteJob implements JobClient. "execute --wait" blocks for as long as the
// job may run, so it is bounded by spec.ExecuteWait rather than the default.
func (g *GcloudClient) ExecuteJob(ctx context.Context, spec JobSpec) error {
	_, err := g.run(ctx, ExecuteArgs(spec), nil, spec.ExecuteWait())
	return err
}

// ReadLogs implements JobClient.
func (g *GcloudClient) ReadLogs(ctx context.Context, spec JobSpec, q LogQuery) (string, error) {
	return g.run(ctx, LogArgs(spec, q), nil, 0)
}

// DeleteJob implements JobClient.
func (g *GcloudClient) DeleteJob(ctx context.Context, spec JobSpec) error {
	_, err := g.run(ctx, DeleteArgs(spec), nil, 0)
	return err
}

func (g *GcloudClient) run(ctx context.Context, args []string, secrets []string, timeout time.Duration) (string, error) {
	g.logger.Debug("running gcloud", "command", RenderCommand(g.binary, args, secrets...))
	out, err := g.cmd.Run(ctx, g.binary, args, timeout)
	if err != nil {
		return "", fmt.Errorf("gcloud %s: %w", strings.Join(args[:min(3, len(args))], " "), redactError(err, secrets))
	}
	return out, nil
}

// CreateArgs renders "gcloud run jobs create".
func CreateArgs(spec JobSpec) []string {
	return []string{
		"run", "jobs", "create", spec.Name,
		"--image=" + spec.Image,
		"--region=" + spec.Region,
		"--project=" + spec.ProjectID,
		"--set-env-vars=" + EncodeEnvVars(spec.Env),
		"--memory=" + spec.Memory,
		"--cpu=" + spec.CPU,
		"--max-retries=" + strconv.Itoa(spec.MaxRetries),
		"--task-timeout=" + formatSeconds(spec.TaskTimeout),
		"--quiet",
	}
}

// ExecuteArgs renders "gcloud run jobs execute --wait".
func ExecuteArgs(spec JobSpec) []string {
	return []string{
		"run", "jobs", "execute", spec.Name,
		"--region=" + spec.Region,
		"--project=" + spec.ProjectID,
		"--wait",
		"--quiet",
	}
}

// LogArgs renders "gcloud logging read" for the job's entries.
func LogArgs(spec JobSpec, q LogQuery) []string {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	format := "value(textPayload)"
	if q.Verbose {
		format = "table(timestamp,textPayload)"
	}
	return []string{
		"logging", "read", LogFilter(spec.Name),
		"--project=" + spec.ProjectID,
		"--limit=" + strconv.Itoa(limit),
		"--format=" + format,
	}
}

// DeleteArgs renders "gcloud run jobs delete".
func DeleteArgs(spec JobSpec) []string {
	return []string{
		"run", "jobs", "delete", spec.Name,
		"--region=" + spec.Region,
		"--project=" + spec.ProjectID,
		"--quiet",
	}
}

// Commands lists the four gcloud invocations of a dispatch in order.
func Commands(spec JobSpec, q LogQuery) [][]string {
	return [][]string{CreateArgs(spec), ExecuteArgs(spec), LogArgs(spec, q), DeleteArgs(spec)}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d.Round(time.Second)/time.Second), 10) + "s"
}

// envDelimiters are tried in order when a value contains a comma.
var envDelimiters = []string{"@", "|", "#", "~", ";", ":", "%", "!", "+", "*"}

// EncodeEnvVars renders vars for --set-env-vars. Values containing commas use
// gcloud's alternate delimiter syntax ("^@^A=1,2@B=3") with a delimiter that
// appears in no name or value. When all of envDelimiters are taken, the first
// unused graphic rune above Latin-1 punctuation is used instead.
func EncodeEnvVars(vars []EnvVar) string {
	pairs := make([]string, len(vars))
	needsEscape := false
	for i, v := range vars {
		pairs[i] = v.Name + "=" + v.Value
		if strings.Contains(pairs[i], ",") {
			needsEscape = true
		}
	}
	if !needsEscape {
		return strings.Join(pairs, ",")
	}

	all := strings.Join(pairs, "")
	delim := ""
	for _, d := range envDelimiters {
		if !strings.Contains(all, d) {
			delim = d
			break
		}
	}
	if delim == "" {
		delim = string(unusedRune(all))
	}
	return "^" + delim + "^" + strings.Join(pairs, delim)
}

// unusedRune returns the first graphic, non-space rune from U+00A1 up that s
// does not contain. s would need over 100k distinct runes to exhaust the
// search, far beyond what fits in a job's environment.
func unusedRune(s string) rune {
	used := make(map[rune]bool)
	for _, r := range s {
		used[r] = true
	}
	for r := rune(0xA1); r <= unicode.MaxRune; r++ {
		if !used[r] && unicode.IsGraphic(r) && !unicode.IsSpace(r) {
			return r
		}
	}
	return unicode.ReplacementChar
}

// RenderCommand quotes a command line for display with every secret replaced.
func RenderCommand(binary string, args []string, secrets ...string) string {
	return redact(shellquote.Join(append([]string{binary}, args...)...), secrets)
}

func secretValues(spec JobSpec) []string {
	var out []string
	for _, v := range spec.Env {
		if v.Value != "" && log.IsSecretKey(v.Name) {
			out = append(out, v.Value)
		}
	}
	return out
}

func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, log.Redacted)
		}
	}
	return s
}

// redactedError keeps the original error reachable for errors.As while
// scrubbing its message.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redactError(err error, secrets []string) error {
	if len(secrets) == 0 {
		return err
	}
	msg := redact(err.Error(), secrets)
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

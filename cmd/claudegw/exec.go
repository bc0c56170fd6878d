package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/cloudrun"
	"github.com/SyntesseraAI/n8n-heroku/internal/config"
	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
	"github.com/SyntesseraAI/n8n-heroku/internal/nodes"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
	"github.com/SyntesseraAI/n8n-heroku/internal/storage"
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// readPrompt joins the positional args; a single "-" reads stdin.
func readPrompt(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
	prompt := strings.Join(args, " ")
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

// openRecorder opens run history. The returned closer is never nil.
func openRecorder(ctx context.Context, cfg *config.Config, enabled bool) ([]nodes.Option, func(), error) {
	if !enabled {
		return nil, func() {}, nil
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open run history: %w", err)
	}
	store := runs.New(db, cfg.State.OutputLimit)
	return []nodes.Option{nodes.WithRecorder(store)}, func() { _ = db.Close() }, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so child processes are
// terminated rather than orphaned.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printNodeResult writes a single item result and returns the exit code.
func printNodeResult(results []nodes.Result, err error, jsonOut bool) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	if len(results) == 0 {
		return 1
	}
	res := results[0]
	if jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	fmt.Print(res.Output)
	if res.Output != "" && !strings.HasSuffix(res.Output, "\n") {
		fmt.Println()
	}
	return 0
}

func runInvoke(args []string) int {
	var (
		configPath, model, mcp, dir, capture string
		timeout                              time.Duration
		noTools, noRecord, jsonOut, verbose  bool
	)
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&model, "model", "", "Model (sonnet, opus, opusplan, haiku)")
	fs.StringVar(&mcp, "mcp", "", "Space-separated MCP servers")
	fs.BoolVar(&noTools, "no-tools", false, "Do not pass --allowedTools")
	fs.DurationVar(&timeout, "timeout", 0, "Kill the CLI after this long")
	fs.StringVar(&dir, "dir", "", "Working directory")
	fs.StringVar(&capture, "capture", "", "Capture mode (pty, pipes)")
	fs.BoolVar(&noRecord, "no-record", false, "Do not record the run")
	fs.BoolVar(&jsonOut, "json", false, "Print the node result as JSON")
	fs.BoolVar(&verbose, "v", false, "Debug logging on stderr")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	prompt, err := readPrompt(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	setupToolLogging(cfg, verbose)
	if capture != "" {
		cfg.Claude.Capture = capture
	}

	item := nodes.ClaudeCodeItem{
		Model:            model,
		Prompt:           prompt,
		WorkingDirectory: dir,
		TimeoutSeconds:   int(timeout / time.Second),
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mcp":
			item.MCPServers = claude.ParseMCPServers(mcp)
			if item.MCPServers == nil {
				item.MCPServers = []string{}
			}
		case "no-tools":
			allowed := !noTools
			item.AllowedTools = &allowed
		}
	})

	ctx, stop := signalContext()
	defer stop()

	opts, closeRecorder, err := openRecorder(ctx, cfg, !noRecord)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeRecorder()

	inv := invoke.New(invoke.WithKillGrace(cfg.Claude.KillGrace))
	runner, err := nodes.NewClaudeRunner(inv, cfg.Claude)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defaults, err := nodes.ClaudeCodeDefaultsFrom(cfg.Claude)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	node := nodes.NewClaudeCode(runner, defaults, opts...)
	results, err := node.Execute(ctx, []nodes.ClaudeCodeItem{item}, false)
	return printNodeResult(results, err, jsonOut)
}

func runDispatch(args []string) int {
	var (
		configPath, model, memory, cpu, timeout string
		maxRetries                              int
		verboseLogs, dryRun, noRecord, jsonOut  bool
		debugLog                                bool
	)
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&model, "model", "", "Model (sonnet, opus, opusplan, haiku)")
	fs.StringVar(&memory, "memory", "", "Memory limit, e.g. 4Gi")
	fs.StringVar(&cpu, "cpu", "", "CPU count")
	fs.StringVar(&timeout, "timeout", "", "Task timeout, e.g. 3600s")
	fs.IntVar(&maxRetries, "max-retries", 0, "Task retries")
	fs.BoolVar(&verboseLogs, "verbose", false, "Include timestamps in the log output")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the gcloud commands instead of running them")
	fs.BoolVar(&noRecord, "no-record", false, "Do not record the run")
	fs.BoolVar(&jsonOut, "json", false, "Print the node result as JSON")
	fs.BoolVar(&debugLog, "v", false, "Debug logging on stderr")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	prompt, err := readPrompt(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	setupToolLogging(cfg, debugLog)

	item := nodes.CloudRunItem{
		Model:   model,
		Prompt:  prompt,
		Memory:  memory,
		CPU:     cpu,
		Timeout: timeout,
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-retries":
			item.MaxRetries = &maxRetries
		case "verbose":
			item.Verbose = &verboseLogs
		}
	})

	if dryRun {
		return printDispatchPlan(cfg, item)
	}

	ctx, stop := signalContext()
	defer stop()

	opts, closeRecorder, err := openRecorder(ctx, cfg, !noRecord)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeRecorder()

	inv := invoke.New()
	client, closer, err := nodes.NewJobClient(ctx, inv, cfg.CloudRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if closer != nil {
		defer func() { _ = closer() }()
	}

	node := nodes.NewCloudRunDispatch(client, nodes.CloudRunDefaultsFrom(cfg.CloudRun), opts...)
	results, err := node.Execute(ctx, []nodes.CloudRunItem{item}, false)
	return printNodeResult(results, err, jsonOut)
}

// printDispatchPlan prints the four gcloud invocations a dispatch would run,
// with credentials redacted.
func printDispatchPlan(cfg *config.Config, item nodes.CloudRunItem) int {
	node := nodes.NewCloudRunDispatch(nil, nodes.CloudRunDefaultsFrom(cfg.CloudRun))
	spec, q, err := node.Plan(item, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	secrets := []string{cfg.CloudRun.OAuthToken, cfg.CloudRun.GitHubToken}
	for _, args := range cloudrun.Commands(spec, q) {
		fmt.Println(cloudrun.RenderCommand(cfg.CloudRun.GcloudBinary, args, secrets...))
	}
	return 0
}

func runRunner(args []string) int {
	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	env, err := claude.EntrypointEnvFrom(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	return claude.RunEntrypoint(ctx, invoke.New(), env, os.Stdout, os.Stderr)
}

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/config"
	"github.com/SyntesseraAI/n8n-heroku/internal/doctor"
	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	envConfigPath     = "CLAUDEGW_CONFIG"
	envAPIKey         = "CLAUDEGW_API_KEY"
	defaultConfigFile = "claudegw.yaml"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- VERBS ---
	case "invoke":
		if hasHelpFlag(args) {
			printInvokeHelp()
			return 0
		}
		return runInvoke(args)
	case "dispatch":
		if hasHelpFlag(args) {
			printDispatchHelp()
			return 0
		}
		return runDispatch(args)
	case "runner":
		if hasHelpFlag(args) {
			printRunnerHelp()
			return 0
		}
		return runRunner(args)

	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "run":
		return runRunNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: claudegw version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("claudegw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`claudegw - run the claude CLI locally or as one-shot Cloud Run jobs

Usage:
  claudegw <command> [flags]
  claudegw <noun> <action> [flags]

Execution:
  invoke <prompt>     Run the claude CLI locally and print its cleaned output
  dispatch <prompt>   Run a prompt as a Cloud Run job (create, execute, logs, delete)
  runner              Container entrypoint: run the prompt given in PROMPT

System Commands:
  system start        Start the HTTP host in the foreground
  system watch        Real-time run monitor TUI

Run Commands:
  run list            List recorded runs
  run inspect <id>    Show one run with its output

Config Commands:
  config check        Validate configuration against this host
  config show         Print the resolved configuration (secrets redacted)

General:
  version             Show version information
  help                Show this help message

Configuration is read from --config, then $CLAUDEGW_CONFIG, then ./claudegw.yaml.
Without a file, tokens come from CLAUDE_CODE_OAUTH_TOKEN and GITHUB_TOKEN.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runRunNoun(args []string) int {
	if len(args) < 1 {
		printRunNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRunNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printRunListHelp()
			return 0
		}
		return runRunList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printRunInspectHelp()
			return 0
		}
		return runRunInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown run action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// --- CONFIG ---

// resolveConfigPath returns the config file to load, or "" when none exists.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// loadConfigForTool loads the resolved config file, or builds one from
// defaults and the process environment when there is none.
func loadConfigForTool(flagValue string) (*config.Config, error) {
	if path := resolveConfigPath(flagValue); path != "" {
		return config.Load(path)
	}
	cfg, err := config.Parse(nil)
	if err != nil {
		return nil, err
	}
	cfg.Claude.OAuthToken = os.Getenv(claude.OAuthTokenEnv)
	cfg.Claude.GitHubToken = os.Getenv(claude.EnvGitHubToken)
	cfg.CloudRun.OAuthToken = cfg.Claude.OAuthToken
	cfg.CloudRun.GitHubToken = cfg.Claude.GitHubToken
	cfg.CloudRun.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	return cfg, nil
}

// setupToolLogging sends CLI logs to stderr so stdout carries only results.
func setupToolLogging(cfg *config.Config, verbose bool) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	log.Configure(log.Options{Level: level, Format: cfg.Service.LogFormat, Writer: os.Stderr})
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	redactConfig(cfg)

	if *jsonOut {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// redactConfig replaces every credential with a fingerprint.
func redactConfig(cfg *config.Config) {
	for _, s := range []*string{
		&cfg.API.Auth.APIKey,
		&cfg.Claude.OAuthToken,
		&cfg.Claude.GitHubToken,
		&cfg.CloudRun.OAuthToken,
		&cfg.CloudRun.GitHubToken,
	} {
		if *s != "" {
			*s = log.Redacted + " blake3:" + log.Fingerprint(*s)
		}
	}
}

// --- HELPERS ---

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// exitCodeFor maps an execution error to a process exit code. A CLI that
// exited non-zero passes its own code through.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *invoke.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode > 0 {
		return exitErr.ExitCode
	}
	return 1
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: claudegw system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printRunNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: claudegw run <action>")
	fmt.Fprintln(w, "Actions: list, inspect")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: claudegw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printInvokeHelp() {
	fmt.Println("Usage: claudegw invoke [flags] <prompt | ->")
	fmt.Println("Run the claude CLI locally. A prompt of - is read from stdin.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH      Configuration file")
	fmt.Println("  --model NAME       sonnet, opus, opusplan or haiku")
	fmt.Println("  --mcp LIST         Space-separated MCP servers (\"\" for none)")
	fmt.Println("  --no-tools         Do not pass --allowedTools")
	fmt.Println("  --timeout DUR      Kill the CLI after DUR (default from config)")
	fmt.Println("  --dir PATH         Working directory")
	fmt.Println("  --capture MODE     pty or pipes")
	fmt.Println("  --no-record        Do not record the run in history")
	fmt.Println("  --json             Print the node result as JSON")
}

func printDispatchHelp() {
	fmt.Println("Usage: claudegw dispatch [flags] <prompt | ->")
	fmt.Println("Run a prompt as a one-shot Cloud Run job and print its logs.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH      Configuration file")
	fmt.Println("  --model NAME       sonnet, opus, opusplan or haiku")
	fmt.Println("  --memory SIZE      Memory limit (default 4Gi)")
	fmt.Println("  --cpu N            CPU count (default 2)")
	fmt.Println("  --timeout DUR      Task timeout, e.g. 3600s")
	fmt.Println("  --max-retries N    Task retries")
	fmt.Println("  --verbose          Include timestamps in the log output")
	fmt.Println("  --dry-run          Print the gcloud commands instead of running them")
	fmt.Println("  --no-record        Do not record the run in history")
	fmt.Println("  --json             Print the node result as JSON")
}

func printRunnerHelp() {
	fmt.Println("Usage: claudegw runner")
	fmt.Println("Container entrypoint. Reads PROMPT, MODEL, CLAUDE_CODE_OAUTH_TOKEN,")
	fmt.Println("GITHUB_TOKEN, CLAUDE_TIMEOUT and CLAUDE_BINARY from the environment.")
	fmt.Println("Exits with the CLI's exit code.")
}

func printSystemStartHelp() {
	fmt.Println("Usage: claudegw system start [--config PATH]")
	fmt.Println("Start the HTTP host in the foreground. The config file is watched and")
	fmt.Println("node and logging settings are reloaded on change.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: claudegw system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time run monitor TUI.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Host API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or CLAUDEGW_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate runs")
	fmt.Println("  enter            Show run output")
	fmt.Println("  esc              Close output")
	fmt.Println("  r                Refresh")
}

func printRunListHelp() {
	fmt.Println("Usage: claudegw run list [--config PATH] [--kind KIND] [--status STATUS] [--limit N] [--json]")
	fmt.Println("List recorded runs, newest first.")
}

func printRunInspectHelp() {
	fmt.Println("Usage: claudegw run inspect <id> [--config PATH] [--json]")
	fmt.Println("Show one recorded run including its output.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: claudegw config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration and check binaries, credentials and state location.")
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  One or more errors")
	fmt.Println("  2  Warnings with --strict")
}

func printConfigShowHelp() {
	fmt.Println("Usage: claudegw config show [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration with credentials redacted.")
}

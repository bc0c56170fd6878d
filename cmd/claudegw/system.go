package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/SyntesseraAI/n8n-heroku/internal/api"
	"github.com/SyntesseraAI/n8n-heroku/internal/config"
	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/lock"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
	"github.com/SyntesseraAI/n8n-heroku/internal/nodes"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
	"github.com/SyntesseraAI/n8n-heroku/internal/storage"
	"github.com/SyntesseraAI/n8n-heroku/internal/tui/watch"
)

// eventBufferSize is how many recent events late SSE subscribers can replay.
const eventBufferSize = 256

// liveNodes holds the node set currently served. Reloads swap the set; batches
// already running keep the set they started with.
type liveNodes struct {
	current atomic.Pointer[nodes.Set]

	mu      sync.Mutex
	retired []*nodes.Set
}

func (l *liveNodes) swap(next *nodes.Set) {
	prev := l.current.Swap(next)
	if prev == nil {
		return
	}
	l.mu.Lock()
	l.retired = append(l.retired, prev)
	l.mu.Unlock()
}

// Close releases every set ever served.
func (l *liveNodes) Close() error {
	l.mu.Lock()
	sets := append(l.retired, l.current.Load())
	l.retired = nil
	l.mu.Unlock()

	var errs []error
	for _, s := range sets {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}

type claudeCodeFront struct{ l *liveNodes }

func (f claudeCodeFront) Execute(ctx context.Context, items []nodes.ClaudeCodeItem, continueOnFail bool) ([]nodes.Result, error) {
	return f.l.current.Load().ClaudeCode.Execute(ctx, items, continueOnFail)
}

type cloudRunFront struct{ l *liveNodes }

func (f cloudRunFront) Execute(ctx context.Context, items []nodes.CloudRunItem, continueOnFail bool) ([]nodes.Result, error) {
	return f.l.current.Load().CloudRunDispatch.Execute(ctx, items, continueOnFail)
}

// restartRequired names the settings a reload cannot apply to a running host.
func restartRequired(prev, next *config.Config) []string {
	var fields []string
	if prev.State.Path != next.State.Path {
		fields = append(fields, "state.path")
	}
	if prev.API.Enabled != next.API.Enabled || prev.API.Listen != next.API.Listen {
		fields = append(fields, "api.listen")
	}
	if prev.API.Auth.APIKey != next.API.Auth.APIKey {
		fields = append(fields, "api.auth.api_key")
	}
	if prev.API.MaxConcurrent != next.API.MaxConcurrent {
		fields = append(fields, "api.max_concurrent")
	}
	return fields
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := resolveConfigPath(*configPath)
	if path == "" {
		fmt.Fprintf(os.Stderr, "No configuration found. Use --config, $%s or ./%s\n", envConfigPath, defaultConfigFile)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Configure(log.Options{Level: cfg.Service.LogLevel, Format: cfg.Service.LogFormat, Writer: os.Stdout})
	logger := log.WithComponent("main")
	logger.Info("claudegw starting", "version", version, "config", cfg.SourcePath, "config_hash", cfg.SourceHash[:12])

	stateLock, err := lock.AcquireState(cfg.State.Path)
	if err != nil {
		logger.Error("failed to lock state (another host may be running)", "error", err)
		return 1
	}
	defer stateLock.Release()
	logger.Info("acquired state lock", "path", stateLock.Path())

	ctx, cancel := signalContext()
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := runs.New(db, cfg.State.OutputLimit)
	hub := events.NewHub(eventBufferSize)
	defer hub.Close()
	nodeOpts := []nodes.Option{nodes.WithRecorder(store), nodes.WithPublisher(hub)}

	set, err := nodes.Build(ctx, cfg, nodeOpts...)
	if err != nil {
		logger.Error("failed to build nodes", "error", err)
		return 1
	}
	live := &liveNodes{}
	live.swap(set)
	defer func() {
		if err := live.Close(); err != nil {
			logger.Warn("failed to close node clients", "error", err)
		}
	}()

	errCh := make(chan error, 2)

	go func() {
		current := cfg
		err := config.Watch(ctx, cfg, func(next *config.Config) {
			if fields := restartRequired(current, next); len(fields) > 0 {
				logger.Warn("config change needs a restart to take effect", "fields", fields)
			}
			nextSet, err := nodes.Build(ctx, next, nodeOpts...)
			if err != nil {
				logger.Error("config reload rejected", "error", err)
				return
			}
			log.Configure(log.Options{Level: next.Service.LogLevel, Format: next.Service.LogFormat, Writer: os.Stdout})
			live.swap(nextSet)
			current = next
			logger.Info("nodes reloaded", "config_hash", next.SourceHash[:12])
		})
		if err != nil {
			logger.Warn("config watcher stopped; hot reload disabled", "error", err)
		}
	}()

	if cfg.API.Enabled {
		server := api.New(api.Config{
			Listen:        cfg.API.Listen,
			APIKey:        cfg.API.Auth.APIKey,
			MaxConcurrent: cfg.API.MaxConcurrent,
			WriteTimeout:  cfg.API.WriteTimeout,
		}, api.Deps{
			ClaudeCode:       claudeCodeFront{live},
			CloudRunDispatch: cloudRunFront{live},
			Runs:             store,
			Events:           hub,
		}, log.WithComponent("api"))
		go func() {
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("api.enabled is false; nothing to serve besides config reloads")
	}

	logger.Info("claudegw running (press Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("claudegw stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Host API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s env var.\n", envAPIKey)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// openRunStore opens run history read-side for the run commands.
func openRunStore(ctx context.Context, configPath string) (*runs.Store, func(), error) {
	cfg, err := loadConfigForTool(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	return runs.New(db, cfg.State.OutputLimit), func() { _ = db.Close() }, nil
}

func runRunList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	kind := fs.String("kind", "", "Filter by kind (claude-code, cloud-run-dispatch)")
	status := fs.String("status", "", "Filter by status (running, succeeded, failed, timed_out)")
	limit := fs.Int("limit", 20, "Maximum runs to show")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openRunStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeStore()

	list, err := store.List(ctx, runs.ListFilter{Kind: runs.Kind(*kind), Status: runs.Status(*status), Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		for i := range list {
			list[i].Output = ""
		}
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(list) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tMODEL\tSTATUS\tSTARTED\tDURATION")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Kind, r.Model, r.Status, r.CreatedAt.Local().Format(time.DateTime), r.Took())
	}
	_ = tw.Flush()
	return 0
}

func runRunInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	ids, err := parseWithPositionals(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(ids) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: claudegw run inspect <id> [--config PATH] [--json]")
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openRunStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeStore()

	r, err := store.Get(ctx, ids[0])
	if errors.Is(err, runs.ErrRunNotFound) {
		fmt.Fprintf(os.Stderr, "Run not found: %s\n", ids[0])
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("ID:       %s\n", r.ID)
	fmt.Printf("Kind:     %s\n", r.Kind)
	fmt.Printf("Model:    %s\n", r.Model)
	fmt.Printf("Status:   %s\n", r.Status)
	if r.JobName != "" {
		fmt.Printf("Job:      %s\n", r.JobName)
	}
	fmt.Printf("Started:  %s\n", r.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Duration: %s\n", r.Took())
	if r.Error != "" {
		fmt.Printf("Error:    %s\n", r.Error)
	}
	fmt.Printf("\nPrompt:\n%s\n", r.Prompt)
	if r.Output != "" {
		fmt.Printf("\nOutput:\n%s\n", r.Output)
	}
	return 0
}

// parseWithPositionals lets positionals come before flags, as in
// "run inspect <id> --json".
func parseWithPositionals(fs *flag.FlagSet, args []string) ([]string, error) {
	var positionals []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positionals, nil
		}
		positionals = append(positionals, args[0])
		args = args[1:]
	}
}


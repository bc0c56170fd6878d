package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/SyntesseraAI/n8n-heroku/internal/log"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the config at cfg.SourcePath whenever the file changes and
// passes every valid new version to onChange. Edits that fail to load, or
// that leave the content hash unchanged, are skipped. Watch blocks until ctx
// is done.
func Watch(ctx context.Context, cfg *Config, onChange func(*Config)) error {
	logger := log.WithComponent("config")
	path := cfg.SourcePath
	lastHash := cfg.SourceHash

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file rather than write it.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
		}
	}
	defer stopDebounce()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			stopDebounce()
			debounce = time.NewTimer(reloadDebounce)
			fire = debounce.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)

		case <-fire:
			fire = nil
			if h, err := FileHash(path); err == nil && h == lastHash {
				logger.Debug("config touched without changes", "path", path)
				continue
			}
			next, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			lastHash = next.SourceHash
			logger.Info("config reloaded", "path", path, "hash", next.SourceHash[:12])
			onChange(next)
		}
	}
}

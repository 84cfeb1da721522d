package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*Config)
}

// NewWatcher creates a new Watcher. onChange receives each successfully
// loaded configuration; files that fail to load are logged and ignored.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Config)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   logger,
		onChange: onChange,
	}
}

// Watch blocks until ctx is cancelled. The parent directory is watched
// rather than the file so that atomic renames are picked up.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(w.debounce)
			}

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous configuration",
			"path", w.path, "error", err)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path, "tenants", len(cfg.Tenants))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce waits for editors to finish writing before reloading.
const defaultDebounce = 500 * time.Millisecond

// Reloader watches the config file and hands every valid new version to onChange.
// Invalid edits are logged and the previous configuration stays in effect.
type Reloader struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(*Config, string)
	logger   *slog.Logger
	debounce time.Duration
}

// NewReloader creates a file watcher for path.
func NewReloader(path string, onChange func(cfg *Config, hash string), logger *slog.Logger) (*Reloader, error) {
	if path == "" {
		path = DefaultPath()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		watcher:  watcher,
		path:     path,
		onChange: onChange,
		logger:   logger.With("component", "config", "path", path),
		debounce: defaultDebounce,
	}, nil
}

// Run watches for file changes. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(r.debounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg, hash, err := LoadWithHash(r.path)
	if err != nil {
		r.logger.Error("hot-reload failed, keeping previous config", "error", err)
		return
	}
	r.logger.Info("hot-reload: config reloaded", "hash", hash)
	r.onChange(cfg, hash)
}

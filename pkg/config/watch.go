package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// DefaultDebounce is how long a configuration file must stay unchanged
// before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a configuration file whenever it changes.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *telemetry.Logger
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, debounce time.Duration, logger *telemetry.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		logger:   logger.NewComponentLogger("config-watcher"),
	}
}

// Watch blocks until ctx is done. After every settled change it loads the
// file and, when it is valid, calls onChange. Calls never overlap; changes
// made while onChange runs trigger one more reload afterwards. Invalid files
// are logged and skipped.
func (w *Watcher) Watch(ctx context.Context, onChange func(context.Context, *Config)) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", w.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace files by rename, so the directory is watched.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.logger.WithField("path", abs).Info("Watching configuration")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("Configuration changed")
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Watcher error")

		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				w.logger.WithError(err).Error("Ignoring invalid configuration")
				continue
			}
			w.logger.Info("Configuration reloaded")
			onChange(ctx, cfg)
		}
	}
}

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// fresh config to onChange. Editors that replace the file atomically emit
// a rename+create pair, so the parent directory is watched instead of the
// file itself.
type Watcher struct {
	path     string
	current  *Config
	onChange func(context.Context, *Config)
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for path. current is updated in place on
// every successful reload.
func NewWatcher(path string, current *Config, onChange func(context.Context, *Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &Watcher{
		path:     abs,
		current:  current,
		onChange: onChange,
		debounce: defaultWatchDebounce,
		watcher:  fw,
	}, nil
}

// Start blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch path %s: %w", dir, err)
	}
	slog.Info("config watcher started", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Info("config watcher stopped")
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	next, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}
	if next.Hash() == w.current.Hash() {
		return
	}
	w.current.ReplaceFrom(next)
	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(ctx, w.current)
	}
}

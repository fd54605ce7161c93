package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with a freshly loaded Config whenever the file at
// path is written, created or renamed into place. The parent directory is
// watched so editors that replace the file atomically are seen. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, load func() (Config, error), onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	name := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := load()
			if err != nil {
				slog.Warn("config reload failed, keeping previous values", "path", path, "error", err)
				continue
			}
			slog.Debug("config reloaded", "path", path)
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

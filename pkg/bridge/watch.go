package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of filesystem events into one reload.
// Editors typically write a config file several times in quick succession.
const watchDebounce = 100 * time.Millisecond

// Watch reloads the config file whenever it changes and invokes fn with
// the new config. Reload failures are logged and the previous config stays
// in effect. Watch returns once the watcher is running; it stops when ctx
// is cancelled.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}

	// Watch the directory: editors replace files by rename, which drops
	// a watch set on the file itself.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watching config dir %s: %w", dir, err)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return fmt.Errorf("resolving config path: %w", err)
	}

	go func() {
		defer func() { _ = fsw.Close() }()

		var pending *time.Timer
		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return

			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(ev.Name)
				if err != nil || abs != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(watchDebounce, func() {
					reload(path, fn)
				})

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}

func reload(path string, fn func(*Config)) {
	cfg, err := LoadConfig(path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config",
			"path", path, "error", err)
		return
	}
	slog.Info("config reloaded", "path", path)
	fn(cfg)
}

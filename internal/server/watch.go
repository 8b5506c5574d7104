package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tsangwailam/mcclaw/internal/core"
)

const reloadDebounce = 500 * time.Millisecond

// reloadConfig re-reads path and applies the settings that can change while
// running. A broken file keeps the previous configuration.
func reloadConfig(path string, logger *slog.Logger) error {
	cfg, err := core.LoadConfig(path)
	if err != nil {
		logger.Error("Configuration file has syntax errors, keeping previous configuration",
			"file", path,
			"error", err)
		return err
	}

	if core.Config != nil {
		cfg.ConfigPath = core.Config.ConfigPath
	}
	core.Config = cfg
	core.SetVerbosity(cfg.Verbose)

	logger.Info("Configuration reloaded", "file", path, "verbose", cfg.Verbose)
	return nil
}

// watchConfig reloads the configuration whenever path changes, until ctx is
// done.
func watchConfig(ctx context.Context, path string, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("Failed to create config file watcher", "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		logger.Debug("Not watching config file", "path", path, "error", err)
		watcher.Close()
		return
	}

	var reloadTimer *time.Timer
	var reloadMutex sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				reloadMutex.Lock()
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadMutex.Unlock()
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				logger.Debug("Filesystem event on config file", "event", event.Op.String(), "file", event.Name)

				// Editors that save atomically drop the file from the watch list.
				if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
					go rewatch(watcher, path, logger)
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				reloadMutex.Lock()
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(reloadDebounce, func() {
					reloadConfig(path, logger)
				})
				reloadMutex.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Config file watcher error", "error", err)
			}
		}
	}()

	logger.Debug("Watching configuration file for changes", "path", path)
}

// rewatch re-adds path with a short backoff while the file is being
// replaced.
func rewatch(watcher *fsnotify.Watcher, path string, logger *slog.Logger) {
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(10<<uint(attempt-1)) * time.Millisecond)
		}
		watcher.Remove(path)
		if err := watcher.Add(path); err == nil {
			return
		} else if attempt == 4 {
			logger.Error("Failed to re-add config watch", "error", err, "path", path)
		}
	}
}

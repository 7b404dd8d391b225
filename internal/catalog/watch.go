package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the catalog whenever the file at path changes. The parent
// directory is watched so editors that replace the file are handled. Watch
// blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	logger := c.logger.WithField("path", target)
	logger.Info("watching catalog file")

	var (
		pending bool
		timer   = time.NewTimer(watchDebounce)
	)

	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			pending = true

			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.WithError(err).Warn("catalog watcher error")
		case <-timer.C:
			if !pending {
				continue
			}

			pending = false

			if _, err := c.Reload(ctx); err != nil {
				logger.WithError(err).Warn("catalog reload after change failed, keeping previous snapshot")
			}
		}
	}
}

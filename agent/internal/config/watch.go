package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors path and calls reload each time the file is written or
// replaced. It runs until ctx is cancelled.
//
// reload decides what a change means; the agent uses it to re-validate the
// file and warn that a restart is needed, since the loaded registry never
// changes for the life of the process.
func Watch(ctx context.Context, path string, reload func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic-save editors and ConfigMap updates arrive as create/rename.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if err := reload(); err != nil {
				slog.Error("config: changed file is invalid", "path", path, "err", err)
			} else {
				slog.Warn("config: file changed on disk, restart to apply", "path", path)
			}

			// Re-add in case the inode was replaced.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

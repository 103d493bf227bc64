package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a local dataset file whenever it changes. Bursts of events
// (editors often write, truncate and rename) collapse into one load after
// the file has been quiet for the debounce interval.
type Watcher struct {
	path     string
	loader   *Loader
	debounce time.Duration
	logger   *slog.Logger
	// loaded receives each reload outcome; used by tests.
	loaded chan error
}

func NewWatcher(path string, loader *Loader, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		debounce: debounce,
		logger:   slog.Default().With("component", "dataset-watcher", "path", path),
	}
}

// Run watches until ctx is cancelled. The directory is watched rather than
// the file so replacing the file by rename is still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching dataset")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("dataset changed", "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)
		case <-timer.C:
			_, err := w.loader.LoadFrom(ctx, w.path)
			if err != nil {
				w.logger.Error("reload failed", "error", err)
			}
			if w.loaded != nil {
				select {
				case w.loaded <- err:
				default:
				}
			}
		}
	}
}

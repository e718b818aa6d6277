package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a declaration file whenever it changes on disk.
type Watcher struct {
	loader  *Loader
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	// Debounce delay before a reload fires, so editors that write in several
	// steps trigger one reload.
	debounce time.Duration
}

// NewWatcher returns a watcher that parses changed files with loader.
func NewWatcher(loader *Loader, logger zerolog.Logger) *Watcher {
	return &Watcher{loader: loader, logger: logger, debounce: 500 * time.Millisecond}
}

// Watch starts watching path and invokes onChange with each successfully
// reloaded configuration. Parse and validation failures are logged and
// skipped; the last good configuration stays in effect. Invocations of
// onChange never overlap: changes written during a reload coalesce into one
// follow-up invocation after it returns. Watch returns once the watcher is
// running; it stops when ctx is canceled.
func (w *Watcher) Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory, not the file: editors commonly replace the file
	// by rename, which drops a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.processEvents(ctx, path, onChange)

	w.logger.Info().Str("path", path).Msg("watching declaration file")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, path string, onChange func(*Config)) {
	defer w.watcher.Close()

	// Reloads fire on this goroutine once the debounce lapses, so a change
	// that lands while onChange is still running waits for it instead of
	// starting a second invocation concurrently.
	reload := time.NewTimer(w.debounce)
	if !reload.Stop() {
		<-reload.C
	}
	armed := false

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("declaration changed")

			if armed && !reload.Stop() {
				<-reload.C
			}
			reload.Reset(w.debounce)
			armed = true

		case <-reload.C:
			armed = false
			cfg, err := w.loader.Load(path)
			if err != nil {
				w.logger.Error().Err(err).Msg("failed to reload declaration")
				continue
			}
			onChange(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watch error")
		}
	}
}

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.tab5.dev/bsp/logging"
)

// WatchDebounce is how long the file must stay unchanged before it is reread.
const WatchDebounce = 100 * time.Millisecond

// Watch calls onChange with the new config every time the file at filePath is rewritten, until
// ctx is done. A burst of writes yields one reload. A file that fails to read or validate is
// logged and skipped. The directory is watched rather than the file so that editors that replace
// the file are followed.
func Watch(ctx context.Context, filePath string, logger logging.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Debugw("failed to close config watcher", "error", err)
		}
	}()

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "failed to watch %s", filePath)
	}

	var reloadMu sync.Mutex
	reload := func() {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		cfg, err := Read(filePath)
		if err != nil {
			logger.Warnw("ignoring invalid config change", "path", filePath, "error", err)
			return
		}
		logger.Infow("config changed", "path", filePath)
		onChange(cfg)
	}
	debounced := debounce.New(WatchDebounce)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("config watcher error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			debounced(reload)
		}
	}
}

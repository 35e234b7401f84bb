package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/benaskins/hotmacro/internal/macro"
	"github.com/benaskins/hotmacro/internal/vault"
)

const watcherDebounce = 500 * time.Millisecond

// newWatcher registers the data directory with fsnotify. Changes made after
// it returns are seen by watch.
func (d *Daemon) newWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(d.dataDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", d.dataDir, err)
	}
	d.logger.Info("watching data directory for changes", "dir", d.dataDir)
	return watcher, nil
}

// watch reloads the macro file or the credential store when they change on
// disk. It closes watcher and returns when the context is cancelled.
func (d *Daemon) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var (
		mu      sync.Mutex
		pending = make(map[string]bool)
		timer   *time.Timer
	)

	reload := func() {
		mu.Lock()
		files := pending
		pending = make(map[string]bool)
		mu.Unlock()

		if files[macro.FileName] {
			if err := d.ReloadMacros(); err != nil {
				d.logger.Error("auto-reload of macros failed", "error", err)
			}
		}
		if files[vault.StoreFileName] {
			if err := d.loadCredentials(); err != nil {
				d.logger.Error("auto-reload of credentials failed", "error", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if name != macro.FileName && name != vault.StoreFileName {
				continue
			}
			d.logger.Debug("data file changed", "file", name, "op", event.Op)

			mu.Lock()
			pending[name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(d.debounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("file watcher error", "error", err)
		}
	}
}

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the bursts of events editors emit on save.
const debounceDelay = 100 * time.Millisecond

// Watch reloads the file at path whenever it is written or recreated and
// passes each valid configuration to onChange. Reload failures go to
// onError when it is non-nil. Watch returns once the watcher is running;
// it stops when ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return fmt.Errorf("config: watch: empty path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	// The directory survives the rename-over-write most editors do.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch directory: %w", err)
	}

	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			report(fmt.Errorf("config: reload: %w", err))
			return
		}
		onChange(cfg)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		base := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				report(fmt.Errorf("config: watcher: %w", err))
			}
		}
	}()
	return nil
}

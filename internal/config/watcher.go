package config

import (
	"fmt"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the settings file and invokes onReload with the freshly
// loaded configuration whenever the file is written. It returns a stop
// function that shuts the watcher down.
//
// Reload failures are logged and skipped; the previous configuration stays in
// effect. Environment variables keep their precedence across reloads.
func Watch(path string, onReload func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: failed to watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Give the writer a moment to finish before re-reading.
				time.Sleep(100 * time.Millisecond)
				cfg, err := LoadConfigFromFile(path)
				if err != nil {
					log.Printf("Warning: settings reload failed: %v", err)
					continue
				}
				log.Printf("Settings file %s reloaded", path)
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Warning: settings watcher error: %v", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

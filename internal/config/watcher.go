package config

import (
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and calls onChange with the freshly
// loaded config after each write. Returns a stop func. The caller
// decides which fields are safe to apply at runtime.
func Watch(path string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					// Editors often truncate-then-write; give the
					// write a moment to settle.
					time.Sleep(100 * time.Millisecond)
					cfg, err := Load(path)
					if err != nil {
						log.Printf("[WARN] Config Watcher: reload failed: %v", err)
						continue
					}
					log.Printf("Config Watcher: %s changed, reloading", path)
					onChange(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] Config Watcher: %v", err)
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

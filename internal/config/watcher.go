package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/miragekit/core/internal/logger"
)

// Watcher hot-reloads a host's encoder/bitrate knobs from a config file
// without a restart (spec §6/§9's "Supplemented features": config
// hot-reload), grounded on the fsnotify-driven reload the teacher's
// cmd/blob-sidecar / azure/* submodules carry fsnotify as a direct
// dependency for.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu      sync.RWMutex
	current Config

	onChange func(ReloadableFields)

	done chan struct{}
}

// NewWatcher opens path, loads its initial configuration, and begins
// watching it for writes. onChange is invoked (from the watcher's own
// goroutine) each time a reload succeeds; a reload that fails validation
// or parsing is logged and the previous configuration is kept.
func NewWatcher(path string, onChange func(ReloadableFields)) (*Watcher, error) {
	initial, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		path:    path,
		fsw:     fsw,
		current: initial,
		onChange: onChange,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) run() {
	log := logger.Logger().With("component", "config.watcher", "path", w.path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := LoadFile(w.path)
			if err != nil {
				log.Warn("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			w.mu.Lock()
			w.current = next
			w.mu.Unlock()
			log.Info("config reloaded")
			if w.onChange != nil {
				w.onChange(next.Reloadable())
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

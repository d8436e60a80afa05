package config

import (
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds a hot-reloadable Config, swapped atomically whenever the
// backing file changes and re-validates cleanly. A reload that fails
// validation is logged and the previous config is kept in place.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path once, then watches it for changes.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		logger:  logger.With("component", "config_watcher"),
		watcher: fw,
		done:    make(chan struct{}),
	}
	w.current.Store(cfg)
	go w.run()
	return w, nil
}

// Get returns the currently active Config. Safe for concurrent use.
func (w *Watcher) Get() *Config {
	return w.current.Load()
}

// Close stops the background watch goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Editors commonly rewrite a file via rename+create; a Write or
			// Create event on the same path both signal "re-read me".
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.current.Store(cfg)
	w.logger.Info("config reloaded", "path", w.path, "version", cfg.Version)
}

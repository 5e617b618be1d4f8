package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/coderelay/coderelay/internal/logging"
)

// Watcher reloads configuration when the watched config file changes,
// so timeout and budget tuning takes effect without a restart.
type Watcher struct {
	watcher   *fsnotify.Watcher
	path      string
	directory string
	onReload  func(*Config)
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
	mu        sync.Mutex
}

// NewWatcher watches the project config file under directory and calls
// onReload with the freshly loaded config after each change. Returns
// nil when there is no config file to watch; Start and Stop on a nil
// watcher are no-ops, so callers can hold the result unconditionally.
func NewWatcher(directory string, onReload func(*Config)) (*Watcher, error) {
	path := ProjectConfigPath(directory)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the containing directory; editors replace files on save,
	// which drops watches registered on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		logging.Debug().Str("path", path).Msg("no project config directory, config watcher disabled")
		return nil, nil
	}

	return &Watcher{
		watcher:   w,
		path:      path,
		directory: directory,
		onReload:  onReload,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching for config changes.
func (w *Watcher) Start() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			cfg, err := Load(w.directory)
			if err != nil {
				logging.Error().Err(err).Msg("config reload failed")
				continue
			}
			logging.Info().Str("path", w.path).Msg("configuration reloaded")
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Stop stops the watcher and waits for the watch loop to exit. Calling
// Stop again is a no-op.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	close(w.stopCh)
	w.watcher.Close()
	if started {
		<-w.doneCh
	}
}

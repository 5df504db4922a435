package procpool

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigReloadWatcher watches a file on disk and injects a reload signal
// into a SignalHandler whenever it changes, debounced so a burst of writes
// (e.g. an editor's save-then-rename) collapses into a single reload. This
// supplements the spec: HUP is not the only way to trigger "reload" — a
// config file edit can too, the way smazurov-videonode's
// internal/config.Watcher and tombee-conductor's internal/controller/
// filewatcher drive their own reload paths from fsnotify.
type ConfigReloadWatcher struct {
	path     string
	signal   string
	debounce time.Duration
	handler  *SignalHandler
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
}

// NewConfigReloadWatcher creates a watcher for path that injects signalName
// (e.g. "HUP") into handler on change. signalName must be present in the
// mappings handler.Start was called with.
func NewConfigReloadWatcher(path string, signalName string, handler *SignalHandler, logger *slog.Logger) (*ConfigReloadWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigReloadWatcher{
		path:     path,
		signal:   signalName,
		debounce: 1500 * time.Millisecond,
		handler:  handler,
		logger:   logger,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}, nil
}

// Run blocks, watching for changes until Close is called. It is meant to be
// run in its own goroutine.
func (w *ConfigReloadWatcher) Run() {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	fire := func() {
		if err := w.handler.InjectSignal(w.signal); err != nil {
			w.logger.Error("config reload injection failed", "path", w.path, "error", err)
		}
	}

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, fire)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "path", w.path, "error", err)
		}
	}
}

// Close stops the watcher and releases its inotify/kqueue/FSEvents handle.
func (w *ConfigReloadWatcher) Close() error {
	close(w.stopCh)
	return w.watcher.Close()
}

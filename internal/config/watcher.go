package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes and hands the
// fresh config to registered handlers. Only settings that can change
// without a restart should be applied by handlers.
type Watcher struct {
	path     string
	debounce time.Duration
	handlers []func(*Config)
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatcher creates a watcher for path. A zero debounce means 500ms.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{path: path, debounce: debounce, logger: logger}
}

// OnReload registers a handler called with every successfully loaded config.
func (w *Watcher) OnReload(handler func(*Config)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

// Start begins watching. The parent directory is watched so editors that
// replace the file are noticed.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("config watcher started", "path", w.path, "debounce", w.debounce)
	go w.watch(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)

	var timerC <-chan time.Time
	var timer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
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
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current settings", "error", err)
		return
	}

	w.mu.Lock()
	handlers := append([]func(*Config){}, w.handlers...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, h := range handlers {
		h(cfg)
	}
}

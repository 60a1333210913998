package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the models directory for .gguf files appearing or
// disappearing and triggers a Registry reload on change, debounced so a
// burst of filesystem events (a large model file being copied in, say)
// collapses into a single reload.
type Watcher struct {
	fsw              *fsnotify.Watcher
	logger           *slog.Logger
	debounceInterval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a Watcher for dir. It does not start watching until
// Watch is called.
func NewWatcher(dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("registry: watching %q: %w", dir, err)
	}
	return &Watcher{
		fsw:              fsw,
		logger:           logger,
		debounceInterval: 200 * time.Millisecond,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Watch blocks, calling onReload whenever a .gguf file is created, removed,
// or renamed within the watched directory, until ctx is cancelled or Stop
// is called. onReload's error is logged and swallowed — a failed reload
// leaves the existing registry in place rather than crashing the watcher.
func (w *Watcher) Watch(ctx context.Context, onReload func() error) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("registry: watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("registry: watcher events channel closed")
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".gguf") {
				continue
			}
			w.debounce(func() {
				w.logger.Info("models directory changed, reloading registry", "path", event.Name, "op", event.Op.String())
				if err := onReload(); err != nil {
					w.logger.Error("registry reload failed", "error", err)
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("registry: watcher errors channel closed")
			}
			w.logger.Error("registry watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounce(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceInterval, fn)
}

// Stop stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.fsw.Close()
}

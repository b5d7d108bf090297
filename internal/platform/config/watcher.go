package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the new,
// validated config to OnChange. Invalid edits go to OnError and the previous
// config stays in effect.
type Watcher struct {
	path     string
	loader   *Loader
	debounce time.Duration

	OnChange func(*Config)
	OnError  func(error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for path. The file must already exist.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher requires a file path")
	}
	if onChange == nil {
		return nil, fmt.Errorf("config watcher requires a change callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &Watcher{
		path:     abs,
		loader:   NewLoader().WithDotEnv(false).WithPath(abs),
		debounce: defaultDebounce,
		OnChange: onChange,
	}, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// editors which replace the file atomically are still picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	defer w.stopTimer()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule(ctx)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.reportError(fmt.Errorf("config watcher: %w", err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	result, err := w.loader.Load()
	if err != nil {
		w.reportError(err)
		return
	}
	w.OnChange(result.Config)
}

func (w *Watcher) reportError(err error) {
	if w.OnError != nil {
		w.OnError(err)
	}
}

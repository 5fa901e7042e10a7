// Package watch re-runs the pipeline when a local source snapshot
// changes, for workflows where the CSV is delivered out of band.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// Watcher monitors snapshot files and triggers a handler on change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.RWMutex
	files map[string]bool

	// OnChange runs after the debounce window for a changed file.
	OnChange func(ctx context.Context, path string) error
}

// New creates a watcher with a half-second debounce.
func New() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeInvalidConfig, "failed to create file watcher")
	}
	return &Watcher{
		watcher:  fsWatcher,
		debounce: 500 * time.Millisecond,
		files:    make(map[string]bool),
	}, nil
}

// Watch registers a file. The containing directory is watched since
// editors and downloads often replace files instead of writing in place.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absPath); err != nil {
		return rferrors.Wrap(err, rferrors.CodeInvalidConfig, "watched file does not exist").
			WithContext("path", path)
	}

	w.mu.Lock()
	w.files[absPath] = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return rferrors.Wrap(err, rferrors.CodeInvalidConfig, "failed to watch directory").
			WithContext("dir", filepath.Dir(absPath))
	}
	slog.Info("watching snapshot", "path", absPath)
	return nil
}

// Run blocks, dispatching debounced change events until the context is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	timers := make(map[string]*time.Timer)
	var timerMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.mu.RLock()
			watched := w.files[absPath]
			w.mu.RUnlock()
			if !watched {
				continue
			}

			timerMu.Lock()
			if t, exists := timers[absPath]; exists {
				t.Stop()
			}
			timers[absPath] = time.AfterFunc(w.debounce, func() {
				w.fire(ctx, absPath)
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) fire(ctx context.Context, path string) {
	if w.OnChange == nil {
		return
	}
	slog.Info("snapshot changed, re-running", "path", path)
	if err := w.OnChange(ctx, path); err != nil {
		slog.Error("change handler failed", "path", path, "error", err)
	}
}

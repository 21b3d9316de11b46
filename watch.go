package stencil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the period file events are collected for before the affected
// templates are invalidated.
const DefaultDebounce = 100 * time.Millisecond

// Watcher invalidates the compilations of an Engine when the templates in a directory
// tree change on disk.
type Watcher struct {
	engine *Engine
	root   string

	fsWatcher   *fsnotify.Watcher
	fsWatcherMu sync.Mutex
	debouncer   *debouncer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for the directory root, which must be the directory
// backing e.FileSystem. Call Start to begin watching.
func NewWatcher(e *Engine, root string, debounce time.Duration) (*Watcher, error) {
	e.setup()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		engine:    e,
		root:      root,
		fsWatcher: fsWatcher,
	}
	w.debouncer = newDebouncer(debounce, w.flush)

	if err := w.addTree(root); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) addToWatcher(path string) error {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Add(path)
}

// addTree watches dir and every directory below it that is not ignored.
func (w *Watcher) addTree(dir string) error {
	if err := w.addToWatcher(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		if w.ignored(full) {
			continue
		}
		if err := w.addTree(full); err != nil {
			w.engine.logger.Debug("Failed to watch directory", "path", full, "error", err)
		}
	}
	return nil
}

// identity maps an OS path below the root to a template identity.
func (w *Watcher) identity(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(path string) bool {
	id, ok := w.identity(path)
	if !ok {
		return false
	}
	return w.engine.ignored(id[1:])
}

// Start processes file events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	w.engine.logger.Info("Starting template watcher", "root", w.root)

	go func() {
		defer close(w.done)
		w.handleEvents(ctx)
	}()
}

func (w *Watcher) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			w.engine.logger.Debug("File event", "path", event.Name, "op", event.Op.String())

			if w.ignored(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.engine.logger.Debug("Failed to watch directory", "path", event.Name, "error", err)
					}
					continue
				}
			}

			if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
				continue
			}

			if id, ok := w.identity(event.Name); ok {
				w.debouncer.add(id)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.engine.logger.Error("Template watcher", "error", err)
		}
	}
}

func (w *Watcher) flush(ids []string) {
	for _, id := range ids {
		w.engine.Invalidate(id)
		if w.engine.DepStore != nil && !w.engine.Exists(id) {
			if err := w.engine.DepStore.Forget(id); err != nil {
				w.engine.logger.Error("Forget template dependencies", "template", id, "error", err)
			}
		}
	}
}

// Stop stops watching and flushes pending invalidations.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}

	w.debouncer.stop()

	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Close()
}

// debouncer collects template identities and hands them to onFlush once no new one
// arrived for the window.
type debouncer struct {
	window  time.Duration
	ids     map[string]struct{}
	mu      sync.Mutex
	timer   *time.Timer
	onFlush func([]string)
	stopped bool
}

func newDebouncer(window time.Duration, onFlush func([]string)) *debouncer {
	return &debouncer{
		window:  window,
		ids:     make(map[string]struct{}),
		onFlush: onFlush,
	}
}

func (d *debouncer) add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.ids[id] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) take() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.ids))
	for id := range d.ids {
		ids = append(ids, id)
	}
	d.ids = make(map[string]struct{})
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return ids
}

func (d *debouncer) flush() {
	if ids := d.take(); len(ids) > 0 {
		d.onFlush(ids)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.flush()
}

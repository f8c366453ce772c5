// Package artifact detects the first appearance of a pipeline's index file.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher fires a one-shot callback once its target file exists with a
// non-zero size. Check is cheap and safe to call from any goroutine; the
// pipeline calls it for every diagnostic line. Watch adds an fsnotify
// directory watch that feeds the same check.
type Watcher struct {
	path    string
	name    string
	onReady func()
	logger  zerolog.Logger

	ready atomic.Bool
	once  sync.Once

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// New returns a watcher for path. onReady may be nil.
func New(path string, onReady func(), logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:    path,
		name:    filepath.Base(path),
		onReady: onReady,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Ready reports whether the callback has fired.
func (w *Watcher) Ready() bool { return w.ready.Load() }

// Check stats the target and fires the callback on the first success.
// Once ready it returns true without touching the filesystem.
func (w *Watcher) Check() bool {
	if w.ready.Load() {
		return true
	}
	info, err := os.Stat(w.path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return false
	}
	w.fire()
	return true
}

func (w *Watcher) fire() {
	w.once.Do(func() {
		w.ready.Store(true)
		w.logger.Debug().Str("path", w.path).Msg("artifact ready")
		if w.onReady != nil {
			w.onReady()
		}
	})
}

// Watch starts watching the target's directory, which must exist. Events
// for the target name trigger Check. The watch ends on Close or once ready.
func (w *Watcher) Watch() error {
	w.mu.Lock()
	if w.stopped || w.fsw != nil {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		w.mu.Unlock()
		_ = fsw.Close()
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	w.fsw = fsw
	w.wg.Add(1)
	go w.loop(fsw)
	w.mu.Unlock()

	// The file may have appeared before the watch was registered.
	w.Check()
	return nil
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if w.Check() {
				return
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// Close stops the directory watch. It does not reset readiness and is safe
// to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stop)
	fsw := w.fsw
	w.mu.Unlock()

	w.wg.Wait()
	if fsw != nil {
		_ = fsw.Close()
	}
}

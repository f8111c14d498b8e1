// Package watch reports changes to a single file.
//
// It watches the parent directory rather than the file itself, so editors
// that replace files by rename are handled, and it debounces bursts of
// events into one notification. A broken fsnotify watcher is recreated with
// exponential backoff.
package watch

import (
	"context"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doughall/cmdsched/internal/logging"
)

// DefaultDebounce is the quiet period after the last event before a change is reported.
const DefaultDebounce = 250 * time.Millisecond

const (
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// FileWatcher emits on Changes whenever the watched file is written,
// created, renamed or removed.
type FileWatcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	changes  chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a watcher for path. Call Run to start it.
func New(path string, logger *slog.Logger) *FileWatcher {
	return &FileWatcher{
		path:     path,
		debounce: DefaultDebounce,
		logger:   logging.WithComponent(logger, "watch").With(slog.String("path", path)),
		// Buffered by one: a pending notification already covers later changes.
		changes: make(chan struct{}, 1),
	}
}

// Changes delivers one value per debounced change.
func (w *FileWatcher) Changes() <-chan struct{} {
	return w.changes
}

// notify schedules a change notification after the debounce period.
func (w *FileWatcher) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.changes <- struct{}{}:
		default:
		}
	})
}

func (w *FileWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Run watches until ctx is cancelled. It always returns nil; watcher
// failures are logged and retried.
func (w *FileWatcher) Run(ctx context.Context) error {
	defer w.stopTimer()

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for ctx.Err() == nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("file watch init failed", slog.String("error", err.Error()))
			if !wait() {
				return nil
			}
			continue
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			w.logger.Warn("file watch add failed",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			if !wait() {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		w.logger.Debug("file watcher started")

		w.loop(ctx, fw, file)
		_ = fw.Close()

		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("file watcher stopped; restarting")
		if !wait() {
			return nil
		}
	}
	return nil
}

// loop consumes events until ctx ends or the watcher breaks.
func (w *FileWatcher) loop(ctx context.Context, fw *fsnotify.Watcher, file string) {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == file && ev.Op&relevant != 0 {
				w.logger.Debug("file change detected", slog.String("op", ev.Op.String()))
				w.notify()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			// Overflow means events were lost; assume the file changed.
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				w.logger.Warn("file watch overflow; forcing reload")
				w.notify()
				continue
			}
			w.logger.Warn("file watch error", slog.String("error", err.Error()))
		}
	}
}

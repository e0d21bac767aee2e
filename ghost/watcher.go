package ghost

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce batches the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Reloader restarts a personality.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Watcher reloads the personality when its file changes. The parent directory
// is watched so that editors replacing the file are noticed too.
type Watcher struct {
	path     string
	target   Reloader
	debounce time.Duration
	log      *zap.Logger
	w        *fsnotify.Watcher
}

// NewWatcher starts watching path. Call Run to process events.
func NewWatcher(path string, target Reloader, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		target:   target,
		debounce: debounce,
		log:      log.Named("watcher"),
		w:        w,
	}, nil
}

// Run handles events until ctx ends, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.w.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	w.log.Info("watching personality", zap.String("path", w.path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.log.Debug("personality changed", zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-timer.C:
			if err := w.target.Reload(ctx); err != nil {
				w.log.Error("reload failed", zap.Error(err))
				continue
			}
			w.log.Info("personality reloaded")
		}
	}
}

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentgateway/agentgateway/pkg/logger"
)

// LocalWatcher watches a single config file on disk and republishes its
// Document into a Store's SourceLocal slot on every change, debounced so
// a burst of writes (e.g. an editor's save-then-rename) only triggers
// one reload.
type LocalWatcher struct {
	path     string
	store    *Store
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewLocalWatcher builds a LocalWatcher for path, publishing into store.
// debounce of 0 disables debouncing.
func NewLocalWatcher(path string, store *Store, debounce time.Duration) (*LocalWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &LocalWatcher{path: path, store: store, debounce: debounce, watcher: w}, nil
}

// Start performs an initial load, then watches path for changes until
// ctx is cancelled. It spawns a goroutine and returns immediately.
func (l *LocalWatcher) Start(ctx context.Context) error {
	if err := l.reload(); err != nil {
		return err
	}
	if err := l.watcher.Add(l.path); err != nil {
		return fmt.Errorf("watching %q: %w", l.path, err)
	}
	go l.loop(ctx)
	return nil
}

// Stop closes the underlying watcher.
func (l *LocalWatcher) Stop() { _ = l.watcher.Close() }

// Reload forces an immediate re-read of path, bypassing the debounce
// timer. Used by the admin API's manual reload endpoint.
func (l *LocalWatcher) Reload() error { return l.reload() }

func (l *LocalWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	pending := false

	fire := func() {
		if err := l.reload(); err != nil {
			logger.Errorw("local config reload failed", "path", l.path, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if l.debounce <= 0 {
				fire()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else if !pending {
				timer.Reset(l.debounce)
			}
			pending = true
		case <-timerC(timer):
			pending = false
			fire()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Errorw("local config watcher error", "path", l.path, "error", err)
		}
	}
}

// timerC returns t's channel, or a nil channel (never ready) if t is
// nil, so the select above is a no-op until the first debounce timer is
// armed.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (l *LocalWatcher) reload() error {
	doc, err := LoadDocument(l.path)
	if err != nil {
		return err
	}
	return l.store.SetSource(SourceLocal, doc)
}

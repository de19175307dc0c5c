package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// FSWatcher reports changes to the files directly inside one folder.
// Subdirectories are not followed and directory events are dropped.
type FSWatcher struct {
	logger *slog.Logger
	filter func(name string) bool

	mu       sync.Mutex
	callback func(path string, event EventType)
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewFSWatcher creates a watcher that only reports files whose base name
// passes filter. A nil filter accepts everything.
func NewFSWatcher(filter func(name string) bool, logger *slog.Logger) *FSWatcher {
	return &FSWatcher{logger: logger, filter: filter}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch starts observing path and returns once the watch is registered.
// Events are delivered from a background goroutine until ctx is done or
// Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", path)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		fsw.Close()
		return errors.New("watcher already running")
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.loop(ctx, fsw, done)

	if w.logger != nil {
		w.logger.Info("watching folder", "path", path)
	}
	return nil
}

func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func (w *FSWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Error("filesystem watch error", "error", err)
			}
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	if w.filter != nil && !w.filter(filepath.Base(ev.Name)) {
		return
	}

	var kind EventType
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil || info.IsDir() {
			return
		}
		kind = EventCreate
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = EventDelete
	case ev.Has(fsnotify.Write):
		kind = EventModify
	default:
		return
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	if cb != nil {
		cb(ev.Name, kind)
	}
}

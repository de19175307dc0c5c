package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/trailcam/trailcam-agent/internal/logging"
	"github.com/trailcam/trailcam-agent/internal/watcher"
)

// Event is one watch folder change queued for handling.
type Event struct {
	Type watcher.EventType
	Path string
}

func (e Event) key() string {
	return filepath.Base(e.Path)
}

type EventHandler interface {
	HandleCreated(ctx context.Context, path string) error
	HandleRemoved(ctx context.Context, path string) error
}

// Runner dispatches events to a pool of workers. Events for the same
// filename are handled one at a time in submission order; different
// filenames run concurrently.
type Runner struct {
	handler EventHandler
	workers int
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queues map[string][]Event
	ready  []string
	active int
	closed bool

	running atomic.Bool
	paused  atomic.Bool
}

func NewRunner(handler EventHandler, workers int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Runner{
		handler: handler,
		workers: workers,
		logger:  logger,
		queues:  make(map[string][]Event),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Submit queues ev without blocking. Modify events are dropped; they
// carry nothing the stability wait does not already observe. An event that
// repeats the type of the last pending event for its filename is coalesced
// into it.
func (r *Runner) Submit(ev Event) error {
	if ev.Type == watcher.EventModify {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("runner stopped")
	}

	key := ev.key()
	q, owned := r.queues[key]
	if n := len(q); n > 0 && q[n-1].Type == ev.Type {
		return nil
	}
	r.queues[key] = append(q, ev)
	if !owned {
		r.ready = append(r.ready, key)
		r.cond.Signal()
	}
	return nil
}

// Start runs the workers and blocks until ctx is cancelled and every
// in-flight event has finished. Queued events that never started are
// dropped; a startup reconcile picks them up again.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("event runner started", "workers", r.workers)

	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.cond.Broadcast()
	})
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	wg.Wait()

	r.logger.Info("event runner stopped", "dropped", r.Pending())
}

func (r *Runner) work(ctx context.Context) {
	for {
		r.mu.Lock()
		for !r.closed && (len(r.ready) == 0 || r.paused.Load()) {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}

		key := r.ready[0]
		r.ready = r.ready[1:]
		q := r.queues[key]
		ev := q[0]
		r.queues[key] = q[1:]
		r.active++
		r.mu.Unlock()

		r.dispatch(ctx, ev)

		r.mu.Lock()
		r.active--
		if len(r.queues[key]) > 0 {
			r.ready = append(r.ready, key)
			r.cond.Signal()
		} else {
			delete(r.queues, key)
		}
		r.mu.Unlock()
	}
}

func (r *Runner) dispatch(ctx context.Context, ev Event) {
	log := logging.WithVideo(r.logger, ev.key()).With("event", ev.Type.String())

	defer func() {
		if p := recover(); p != nil {
			log.Error("event handler panicked", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	var err error
	switch ev.Type {
	case watcher.EventCreate:
		err = r.handler.HandleCreated(ctx, ev.Path)
	case watcher.EventDelete:
		err = r.handler.HandleRemoved(ctx, ev.Path)
	default:
		log.Warn("unknown event type")
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Info("event interrupted by shutdown")
	default:
		log.Error("event failed", "error", err)
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("event runner paused")
}

func (r *Runner) Resume() {
	r.mu.Lock()
	r.paused.Store(false)
	r.mu.Unlock()
	r.cond.Broadcast()
	r.logger.Info("event runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Pending is the number of queued events not yet picked up by a worker.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, q := range r.queues {
		n += len(q)
	}
	return n
}

// Active is the number of events currently being handled.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

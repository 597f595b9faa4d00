// Package mainloop provides the privileged execution context: a single
// goroutine, locked to its OS thread, that runs posted tasks one at a time in
// submission order.
package mainloop

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Post once the loop has stopped.
	ErrClosed = errors.New("main loop closed")
	// ErrRunning is returned when Run is called on a loop that is already running.
	ErrRunning = errors.New("main loop already running")
)

// Task is a unit of work executed on the loop. The context identifies the loop.
type Task func(ctx context.Context)

type loopKey struct{}

// Loop is an unbounded FIFO of tasks drained by whichever goroutine calls Run.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []Task
	running bool
	closed  bool

	wake      chan struct{}
	threadID  atomic.Int64
	processed atomic.Uint64
}

// New creates a loop. Nothing runs until Run is called.
func New(logger *slog.Logger) *Loop {
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Post appends a task and returns immediately.
func (l *Loop) Post(task Task) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run executes tasks on the calling goroutine until ctx is cancelled.
// The goroutine is locked to its OS thread for the duration. Tasks still
// queued when Run returns are discarded and later Posts fail with ErrClosed.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return ErrClosed
	case l.running:
		l.mu.Unlock()
		return ErrRunning
	}
	l.running = true
	l.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.threadID.Store(int64(CurrentThreadID()))
	defer l.close()

	l.logger.Info("main loop started", "thread_id", l.ThreadID())

	loopCtx := context.WithValue(ctx, loopKey{}, l)
	for {
		for ctx.Err() == nil {
			task, ok := l.next()
			if !ok {
				break
			}
			l.execute(loopCtx, task)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// execute runs one task. A panicking task is logged and the loop carries on.
func (l *Loop) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("main loop task panicked", "panic", r, "stack", string(debug.Stack()))
		}
		l.processed.Add(1)
	}()
	task(ctx)
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.running = false
	dropped := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	if dropped > 0 {
		l.logger.Warn("main loop stopped with pending tasks", "dropped", dropped)
	}
	l.logger.Info("main loop stopped", "processed", l.Processed())
}

// Running reports whether Run is currently executing.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Processed returns the number of tasks executed so far.
func (l *Loop) Processed() uint64 {
	return l.processed.Load()
}

// ThreadID returns the OS thread the loop runs on, or 0 if unknown.
func (l *Loop) ThreadID() int {
	return int(l.threadID.Load())
}

// FromContext returns the loop executing the current task, if any.
func FromContext(ctx context.Context) (*Loop, bool) {
	l, ok := ctx.Value(loopKey{}).(*Loop)
	return l, ok && l != nil
}

// OnLoop reports whether ctx belongs to a task running on a loop.
func OnLoop(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

package watcher

import (
	"context"
	"sync"
)

// lifecycle is the start/stop plumbing shared by every backend.
type lifecycle struct {
	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func (l *lifecycle) init() {
	l.events = make(chan Event, 100)
	l.errors = make(chan error, 10)
	l.done = make(chan struct{})
}

// spawn runs fn on a tracked goroutine unless the backend was stopped.
func (l *lifecycle) spawn(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
	return nil
}

// wait blocks until the context is cancelled or the backend is stopped.
func (l *lifecycle) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-l.done:
	}
}

// shutdown stops the goroutines, then runs release and closes the channels.
// Only the first call does anything.
func (l *lifecycle) shutdown(release func() error) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	close(l.done)
	l.mu.Unlock()

	l.wg.Wait()

	var err error
	if release != nil {
		err = release()
	}

	close(l.events)
	close(l.errors)
	return err
}

// emitEvent sends an event to the events channel.
func (l *lifecycle) emitEvent(event Event) {
	select {
	case l.events <- event:
	case <-l.done:
	}
}

// reportError never blocks; errors are dropped when nobody is reading.
func (l *lifecycle) reportError(err error) {
	select {
	case l.errors <- err:
	default:
	}
}

// Events returns the events channel.
func (l *lifecycle) Events() <-chan Event {
	return l.events
}

// Errors returns the errors channel.
func (l *lifecycle) Errors() <-chan error {
	return l.errors
}

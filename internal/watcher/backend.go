package watcher

import (
	"context"
	"errors"
)

// Kind names a change source implementation.
type Kind string

const (
	// KindAuto picks the best available backend.
	KindAuto Kind = "auto"
	// KindInotify watches the parent directory with raw Linux inotify.
	KindInotify Kind = "inotify"
	// KindFsnotify watches the parent directory through fsnotify.
	KindFsnotify Kind = "fsnotify"
	// KindPoll compares modification times on a fixed period.
	KindPoll Kind = "poll"
)

// ErrStopped is returned by Start after Stop was called.
var ErrStopped = errors.New("watcher stopped")

// Backend defines a change source for a single file.
type Backend interface {
	// Kind reports which implementation this is.
	Kind() Kind

	// Watch attaches the backend to target. Event-driven backends watch the
	// parent directory (non-recursively).
	Watch(target string) error

	// Start begins watching for events. This method blocks until the context
	// is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop stops the watcher, waits for its goroutines and releases all
	// resources. Safe to call more than once.
	Stop() error

	// Events returns the channel for receiving file system events
	Events() <-chan Event

	// Errors returns the channel for receiving errors
	Errors() <-chan error
}

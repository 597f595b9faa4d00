// Package dispatch hands reload requests from detection goroutines to the
// main loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/listenupapp/geomwatch/internal/id"
	"github.com/listenupapp/geomwatch/internal/mainloop"
	"github.com/listenupapp/geomwatch/internal/reload"
)

// ErrClosed is returned by RequestReload after Close.
var ErrClosed = errors.New("dispatcher closed")

// Poster queues a task on the main loop without waiting for it.
type Poster interface {
	Post(task mainloop.Task) error
}

// Runner executes a request. It is only ever called from a posted task.
type Runner interface {
	Execute(ctx context.Context, req reload.Request) reload.Result
}

// Dispatcher stamps reload requests and posts them to the main loop.
// Requests reach the loop in the order RequestReload was called.
type Dispatcher struct {
	poster Poster
	runner Runner
	logger *slog.Logger

	// Serialises stamping and posting so Seq order is queue order.
	mu     sync.Mutex
	seq    atomic.Uint64
	closed atomic.Bool
}

// New creates a dispatcher.
func New(poster Poster, runner Runner, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		poster: poster,
		runner: runner,
		logger: logger,
	}
}

// RequestReload queues a reload of path and returns at once. It may be
// called from any goroutine.
func (d *Dispatcher) RequestReload(path string, trigger reload.Trigger) (reload.Request, error) {
	if d.closed.Load() {
		return reload.Request{}, ErrClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	req := reload.Request{
		ID:          id.Request(),
		Seq:         d.seq.Load() + 1,
		Path:        path,
		Trigger:     trigger,
		SubmittedAt: time.Now(),
	}

	if err := d.poster.Post(func(ctx context.Context) {
		d.runner.Execute(ctx, req)
	}); err != nil {
		return reload.Request{}, fmt.Errorf("dispatch reload of %s: %w", path, err)
	}
	d.seq.Store(req.Seq)

	d.logger.Debug("reload dispatched", "path", path, "request_id", req.ID, "seq", req.Seq, "trigger", string(trigger))
	return req, nil
}

// Submitted returns the number of requests queued on the loop so far.
func (d *Dispatcher) Submitted() uint64 {
	return d.seq.Load()
}

// Close rejects further requests. Requests already queued still run.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
}

// Package reload applies the watched file to the host application.
//
// The Executor runs only on the main loop. Each reload reads the file fresh,
// builds a new namespace, hands both to the Host, and on success asks the
// host to recompute and refresh. A broken file is reported on the host's
// error console and never stops the watch session.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
	"github.com/listenupapp/geomwatch/internal/mainloop"
)

// SuccessMessage is printed to the host console after a reload.
const SuccessMessage = "Geometry updated from file"

// NoDocumentMessage is printed instead when there is nothing to recompute.
const NoDocumentMessage = "No active document to recompute"

// Options configures an Executor.
type Options struct {
	// Extra bindings merged into every namespace.
	Extra Namespace
	// Modules are optional bindings loaded per reload.
	Modules []Module
}

// Stats summarises the executor's history.
type Stats struct {
	State     string  `json:"state"`
	Total     uint64  `json:"total"`
	Succeeded uint64  `json:"succeeded"`
	Failed    uint64  `json:"failed"`
	Skipped   uint64  `json:"skipped"`
	Last      *Result `json:"last,omitempty"`
}

// Executor applies reload requests one at a time.
type Executor struct {
	host   Host
	logger *slog.Logger
	opts   Options

	// Held for the whole of a reload, so executions never overlap.
	mu    sync.Mutex
	state atomic.Int32

	statsMu   sync.Mutex
	stats     Stats
	observers []func(Result)
}

// NewExecutor creates an executor for host.
func NewExecutor(host Host, logger *slog.Logger, opts Options) *Executor {
	return &Executor{
		host:   host,
		logger: logger,
		opts:   opts,
	}
}

// OnResult registers fn to be called with every finished reload, on the loop.
func (e *Executor) OnResult(fn func(Result)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.observers = append(e.observers, fn)
}

// State returns the current state.
func (e *Executor) State() State {
	return State(e.state.Load())
}

// Stats returns a snapshot of the counters and the last result.
func (e *Executor) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	stats := e.stats
	stats.State = e.State().String()
	if e.stats.Last != nil {
		last := *e.stats.Last
		stats.Last = &last
	}
	return stats
}

// Execute runs one reload and returns its result. Failures are reported to
// the host and returned in the result, never as a panic.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	result := e.execute(ctx, req)
	e.record(result)
	return result
}

func (e *Executor) execute(ctx context.Context, req Request) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.setState(StateIdle)

	return e.run(ctx, req)
}

func (e *Executor) run(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	log := e.logger.With("path", req.Path, "request_id", req.ID, "trigger", string(req.Trigger))

	result = Result{Request: req}
	defer func() {
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(start)
	}()
	defer func() {
		if r := recover(); r != nil {
			result = e.fail(log, result, fmt.Errorf("host panic: %v\n%s", r, debug.Stack()))
		}
	}()

	if !mainloop.OnLoop(ctx) {
		log.Error("reload requested off the main loop")
		result.Outcome = OutcomeFailed
		result.Err = ErrNotOnLoop
		e.setState(StateFailed)
		return result
	}

	e.setState(StateReading)
	source, err := readSource(req.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("watched file missing, reload skipped")
			result.Outcome = OutcomeSkipped
			e.setState(StateSkipped)
			return result
		}
		return e.fail(log, result, err)
	}
	result.Bytes = len(source)

	ns := buildNamespace(e.logger, req.Path, e.host.Bindings(), e.opts.Extra, e.opts.Modules)

	e.setState(StateExecuting)
	log.Debug("applying file", "bytes", len(source), "bindings", len(ns))
	if err := e.apply(ctx, source, ns); err != nil {
		return e.fail(log, result, err)
	}

	switch err := e.host.Recompute(ctx); {
	case err == nil:
		result.Recomputed = true
		e.host.RefreshUI(ctx)
		e.host.PrintMessage(SuccessMessage)
	case errors.Is(err, ErrNoActiveDocument):
		log.Warn("no active document, recompute skipped")
		e.host.PrintMessage(NoDocumentMessage)
	default:
		return e.fail(log, result, fmt.Errorf("recompute: %w", err))
	}

	result.Outcome = OutcomeSucceeded
	e.setState(StateSucceeded)
	log.Info("reload succeeded", "bytes", result.Bytes, "recomputed", result.Recomputed, "duration", time.Since(start))
	return result
}

// apply calls Host.Execute, turning a panic into an error.
func (e *Executor) apply(ctx context.Context, source string, ns Namespace) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.host.Execute(ctx, source, ns)
}

func (e *Executor) fail(log *slog.Logger, result Result, err error) Result {
	result.Outcome = OutcomeFailed
	result.Err = domainerrors.Wrapf(err, domainerrors.CodeExecution, "reload %s", result.Request.Path)
	e.setState(StateFailed)

	log.Error("reload failed", "error", err)
	e.host.PrintError(fmt.Sprintf("Error reloading geometry from %s: %v\n", result.Request.Path, err))
	return result
}

func (e *Executor) record(result Result) {
	e.statsMu.Lock()
	e.stats.Total++
	switch result.Outcome {
	case OutcomeSucceeded:
		e.stats.Succeeded++
	case OutcomeFailed:
		e.stats.Failed++
	case OutcomeSkipped:
		e.stats.Skipped++
	}
	last := result
	e.stats.Last = &last
	observers := slices.Clone(e.observers)
	e.statsMu.Unlock()

	for _, fn := range observers {
		fn(result)
	}
}

func (e *Executor) setState(s State) {
	e.state.Store(int32(s)) //nolint:gosec // G115: State is a small enum
}

// readSource reads the whole file as text. A directory is an error.
func readSource(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	data, err := os.ReadFile(path) //#nosec G304 -- the watched file is chosen by the operator
	if err != nil {
		return "", err
	}
	return string(data), nil
}

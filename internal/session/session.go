// Package session supervises one watch session: a change source, the
// debounce gate in front of it and the dispatcher behind it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/listenupapp/geomwatch/internal/debounce"
	"github.com/listenupapp/geomwatch/internal/dispatch"
	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
	"github.com/listenupapp/geomwatch/internal/id"
	"github.com/listenupapp/geomwatch/internal/reload"
	"github.com/listenupapp/geomwatch/internal/watcher"
)

// Deps are the long-lived collaborators a session posts work to.
type Deps struct {
	Loop     dispatch.Poster
	Executor dispatch.Runner
}

// Options configures a session.
type Options struct {
	Watch    watcher.Options
	Debounce time.Duration
	// Clock overrides the debounce gate's clock.
	Clock func() time.Time
}

// Status is a snapshot of a session.
type Status struct {
	ID           string     `json:"id"`
	Target       string     `json:"target"`
	Backend      string     `json:"backend"`
	Running      bool       `json:"running"`
	StartedAt    time.Time  `json:"started_at"`
	Debounce     string     `json:"debounce"`
	Events       uint64     `json:"events"`
	Ignored      uint64     `json:"ignored"`
	Debounced    uint64     `json:"debounced"`
	Dispatched   uint64     `json:"dispatched"`
	LastAccepted *time.Time `json:"last_accepted,omitempty"`
}

// Session watches one file until Stop is called.
type Session struct {
	id        string
	target    string
	logger    *slog.Logger
	startedAt time.Time

	backend    watcher.Backend
	gate       *debounce.Gate
	dispatcher *dispatch.Dispatcher

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	running  atomic.Bool

	events     atomic.Uint64
	ignored    atomic.Uint64
	debounced  atomic.Uint64
	dispatched atomic.Uint64
}

// Start opens a change source for target and begins forwarding accepted
// changes to the main loop.
func Start(logger *slog.Logger, target string, deps Deps, opts Options) (*Session, error) {
	if target == "" {
		return nil, domainerrors.Validation("watch target is required")
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeValidation, "resolve watch target %q", target)
	}

	sessionID := id.MustGenerate(id.PrefixSession)
	log := logger.With("session_id", sessionID, "path", abs)

	backend, err := watcher.Open(logger.With("session_id", sessionID), abs, opts.Watch)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "no change source available")
	}

	var gateOpts []debounce.Option
	if opts.Clock != nil {
		gateOpts = append(gateOpts, debounce.WithClock(opts.Clock))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         sessionID,
		target:     abs,
		logger:     log,
		startedAt:  time.Now(),
		backend:    backend,
		gate:       debounce.New(opts.Debounce, gateOpts...),
		dispatcher: dispatch.New(deps.Loop, deps.Executor, log),
		cancel:     cancel,
	}
	s.running.Store(true)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := backend.Start(ctx); err != nil {
			s.logger.Debug("change source returned", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.pump(ctx)
	}()

	s.logger.Info("watch session started", "backend", backend.Kind(), "debounce", s.gate.Threshold())
	return s, nil
}

// pump is the only reader of the backend and the only caller of the gate,
// so detection and debouncing happen strictly one event at a time.
func (s *Session) pump(ctx context.Context) {
	events := s.backend.Events()
	errs := s.backend.Errors()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handle(event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("change source error", "error", err)
		}
	}
}

func (s *Session) handle(event watcher.Event) {
	s.events.Add(1)

	if !event.Affects(s.target) {
		s.ignored.Add(1)
		s.logger.Debug("event ignored", "type", event.Type.String(), "event_path", event.Path, "dest_path", event.DestPath)
		return
	}

	if !s.gate.Allow() {
		s.debounced.Add(1)
		s.logger.Debug("change debounced", "type", event.Type.String())
		return
	}

	if _, err := s.dispatcher.RequestReload(s.target, reload.TriggerWatch); err != nil {
		s.logger.Warn("reload not dispatched", "error", err)
		return
	}
	s.dispatched.Add(1)
	s.logger.Info("change detected", "type", event.Type.String())
}

// RequestReload queues a reload without going through the debounce gate.
func (s *Session) RequestReload() (reload.Request, error) {
	if !s.running.Load() {
		return reload.Request{}, domainerrors.NotRunning("watch session stopped")
	}

	req, err := s.dispatcher.RequestReload(s.target, reload.TriggerManual)
	if err != nil {
		return reload.Request{}, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "reload not dispatched")
	}
	return req, nil
}

// Stop ends the session: the change source is stopped and joined, and the
// dispatcher stops accepting requests. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.dispatcher.Close()
		s.cancel()

		if err := s.backend.Stop(); err != nil {
			s.logger.Warn("failed to stop change source", "error", err)
		}
		s.wg.Wait()

		s.logger.Info("watch session stopped",
			"events", s.events.Load(),
			"dispatched", s.dispatched.Load(),
			"uptime", time.Since(s.startedAt).Round(time.Millisecond))
	})
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Target returns the absolute path being watched.
func (s *Session) Target() string { return s.target }

// Backend returns the active change source.
func (s *Session) Backend() watcher.Kind { return s.backend.Kind() }

// Running reports whether Stop has not been called yet.
func (s *Session) Running() bool { return s.running.Load() }

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	st := Status{
		ID:         s.id,
		Target:     s.target,
		Backend:    string(s.backend.Kind()),
		Running:    s.running.Load(),
		StartedAt:  s.startedAt,
		Debounce:   s.gate.Threshold().String(),
		Events:     s.events.Load(),
		Ignored:    s.ignored.Load(),
		Debounced:  s.debounced.Load(),
		Dispatched: s.dispatched.Load(),
	}
	if last := s.gate.Last(); !last.IsZero() {
		st.LastAccepted = &last
	}
	return st
}

// String implements fmt.Stringer.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s, %s)", s.id, s.target, s.backend.Kind())
}

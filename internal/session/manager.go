package session

import (
	"log/slog"
	"path/filepath"
	"sync"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
)

// Event types published by the Manager.
const (
	EventStarted = "session.started"
	EventStopped = "session.stopped"
)

// Publisher receives session lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

// Manager owns at most one running session.
type Manager struct {
	logger    *slog.Logger
	deps      Deps
	opts      Options
	publisher Publisher

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager. publisher may be nil.
func NewManager(logger *slog.Logger, deps Deps, opts Options, publisher Publisher) *Manager {
	return &Manager{
		logger:    logger,
		deps:      deps,
		opts:      opts,
		publisher: publisher,
	}
}

// Start begins watching path. Starting the path that is already being
// watched returns the running session; any other path is refused until the
// current session is stopped.
func (m *Manager) Start(path string) (*Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeValidation, "resolve watch target %q", path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Running() {
		if m.current.Target() == abs {
			m.logger.Debug("watch session already running", "path", abs, "session_id", m.current.ID())
			return m.current, nil
		}
		return nil, domainerrors.AlreadyRunningf("already watching %s", m.current.Target())
	}

	s, err := Start(m.logger, abs, m.deps, m.opts)
	if err != nil {
		return nil, err
	}
	m.current = s
	m.publish(EventStarted, s.Status())
	return s, nil
}

// Stop stops the current session. It reports whether there was one.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}

	s := m.current
	m.current = nil
	s.Stop()
	m.publish(EventStopped, s.Status())
	return true
}

// Current returns the running session, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.Running() {
		return nil, false
	}
	return m.current, true
}

// Shutdown stops the current session. The DI container calls it at exit,
// so the session is torn down even when nobody called Stop.
func (m *Manager) Shutdown() error {
	if m.Stop() {
		m.logger.Info("watch session stopped at shutdown")
	}
	return nil
}

func (m *Manager) publish(eventType string, data any) {
	if m.publisher != nil {
		m.publisher.Publish(eventType, data)
	}
}

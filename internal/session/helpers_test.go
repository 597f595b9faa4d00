package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listenupapp/geomwatch/internal/mainloop"
	"github.com/listenupapp/geomwatch/internal/reload"
)

// countingHost counts the reloads that reach the host.
type countingHost struct {
	mu       sync.Mutex
	sources  []string
	threads  []int
	onLoop   []bool
	errors   []string
	messages []string
}

func (h *countingHost) Bindings() reload.Namespace { return reload.Namespace{"App": "app"} }

func (h *countingHost) Execute(ctx context.Context, source string, _ reload.Namespace) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources = append(h.sources, source)
	h.threads = append(h.threads, mainloop.CurrentThreadID())
	h.onLoop = append(h.onLoop, mainloop.OnLoop(ctx))
	return nil
}

func (h *countingHost) Recompute(context.Context) error { return nil }

func (h *countingHost) RefreshUI(context.Context) {}

func (h *countingHost) PrintMessage(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *countingHost) PrintError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

func (h *countingHost) reloads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sources)
}

func (h *countingHost) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(eventType string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires a running main loop, an executor and a counting host.
type fixture struct {
	loop *mainloop.Loop
	host *countingHost
	deps Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	l := mainloop.New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	require.Eventually(t, l.Running, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host := &countingHost{}
	return &fixture{
		loop: l,
		host: host,
		deps: Deps{
			Loop:     l,
			Executor: reload.NewExecutor(host, testLogger(), reload.Options{}),
		},
	}
}

func writeGeometry(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "doc_geometry.py")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

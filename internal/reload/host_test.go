package reload

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listenupapp/geomwatch/internal/mainloop"
)

// fakeHost records every call the executor makes.
type fakeHost struct {
	mu sync.Mutex

	execErr      error
	recomputeErr error
	panicWith    any
	delay        time.Duration

	// recomputePanic is raised by the next Recompute call only.
	recomputePanic any

	calls      []string
	sources    []string
	namespaces []Namespace
	messages   []string
	errors     []string
	threads    []int

	active    int
	maxActive int
}

func (h *fakeHost) Bindings() Namespace {
	return Namespace{"App": "app-handle", "Gui": "gui-handle"}
}

func (h *fakeHost) Execute(_ context.Context, source string, ns Namespace) error {
	h.mu.Lock()
	h.active++
	h.maxActive = max(h.maxActive, h.active)
	h.calls = append(h.calls, "execute")
	h.sources = append(h.sources, source)
	h.namespaces = append(h.namespaces, maps.Clone(ns))
	h.threads = append(h.threads, mainloop.CurrentThreadID())
	delay, panicWith, err := h.delay, h.panicWith, h.execErr
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.active--
		h.mu.Unlock()
	}()

	time.Sleep(delay)
	if panicWith != nil {
		panic(panicWith)
	}

	// Leave something behind to prove the next namespace is fresh.
	ns["leftover"] = true
	return err
}

func (h *fakeHost) Recompute(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "recompute")
	if p := h.recomputePanic; p != nil {
		h.recomputePanic = nil
		panic(p)
	}
	return h.recomputeErr
}

func (h *fakeHost) RefreshUI(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, "refresh")
}

func (h *fakeHost) PrintMessage(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *fakeHost) PrintError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

// hostRecord is a copy of what a fakeHost saw.
type hostRecord struct {
	calls      []string
	sources    []string
	namespaces []Namespace
	messages   []string
	errors     []string
	threads    []int
	maxActive  int
}

func (h *fakeHost) snapshot() hostRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return hostRecord{
		calls:      append([]string(nil), h.calls...),
		sources:    append([]string(nil), h.sources...),
		namespaces: append([]Namespace(nil), h.namespaces...),
		messages:   append([]string(nil), h.messages...),
		errors:     append([]string(nil), h.errors...),
		threads:    append([]int(nil), h.threads...),
		maxActive:  h.maxActive,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startLoop runs a main loop for the duration of the test.
func startLoop(t *testing.T) *mainloop.Loop {
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
	return l
}

// executeOnLoop runs e.Execute as a loop task and waits for the result.
func executeOnLoop(t *testing.T, l *mainloop.Loop, e *Executor, req Request) Result {
	t.Helper()

	results := make(chan Result, 1)
	require.NoError(t, l.Post(func(ctx context.Context) {
		results <- e.Execute(ctx, req)
	}))

	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not finish")
		return Result{}
	}
}

// loopContext captures a task context so tests can call Execute from other goroutines.
func loopContext(t *testing.T, l *mainloop.Loop) context.Context {
	t.Helper()

	ctxs := make(chan context.Context, 1)
	require.NoError(t, l.Post(func(ctx context.Context) { ctxs <- ctx }))
	return <-ctxs
}

func writeGeometry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc_geometry.py")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

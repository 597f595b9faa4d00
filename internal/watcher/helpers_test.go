package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTarget creates doc_geometry.py in a fresh directory and returns its path.
func writeTarget(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc_geometry.py")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setModTime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// startBackend runs b.Start in the background and stops it at cleanup.
func startBackend(t *testing.T, b Backend) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		_ = b.Stop()
		<-done
	})
}

// waitForEvent reads events until one matches or the timeout expires.
func waitForEvent(t *testing.T, b Backend, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case event, ok := <-b.Events():
			require.True(t, ok, "events channel closed")
			if match(event) {
				return event
			}
		case err := <-b.Errors():
			t.Fatalf("unexpected error: %v", err)
		case <-deadline:
			t.Fatal("timeout waiting for event")
			return Event{}
		}
	}
}

// expectNoMatch drains events for d and fails if any matches.
func expectNoMatch(t *testing.T, b Backend, d time.Duration, match func(Event) bool) {
	t.Helper()

	deadline := time.After(d)
	for {
		select {
		case event, ok := <-b.Events():
			if !ok {
				return
			}
			if match(event) {
				t.Fatalf("unexpected event: %+v", event)
			}
		case <-deadline:
			return
		}
	}
}

func affects(target string) func(Event) bool {
	return func(e Event) bool { return e.Affects(target) }
}

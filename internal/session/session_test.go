package session

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
	"github.com/listenupapp/geomwatch/internal/watcher"
)

func fastOptions() Options {
	return Options{Debounce: 50 * time.Millisecond}
}

func startSession(t *testing.T, f *fixture, target string, opts Options) *Session {
	t.Helper()
	s, err := Start(testLogger(), target, f.deps, opts)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestSession_ReloadsOnChange(t *testing.T) {
	f := newFixture(t)
	path := writeGeometry(t, t.TempDir(), "x = 1\n")
	s := startSession(t, f, path, fastOptions())

	require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))

	require.Eventually(t, func() bool { return f.host.reloads() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.host.mu.Lock()
	assert.Equal(t, "x = 2\n", f.host.sources[0])
	assert.True(t, f.host.onLoop[0])
	if runtime.GOOS == "linux" {
		assert.Equal(t, f.loop.ThreadID(), f.host.threads[0])
	}
	f.host.mu.Unlock()

	status := s.Status()
	assert.True(t, status.Running)
	assert.Equal(t, path, status.Target)
	assert.Equal(t, uint64(1), status.Dispatched)
	assert.NotNil(t, status.LastAccepted)
}

func TestSession_DebouncesEditBursts(t *testing.T) {
	f := newFixture(t)
	path := writeGeometry(t, t.TempDir(), "x = 1\n")
	startSession(t, f, path, Options{Debounce: time.Second})

	start := time.Now()
	for _, step := range []struct {
		at      time.Duration
		content string
	}{
		{0, "x = 2\n"},
		{300 * time.Millisecond, "x = 2\n"},
		{1500 * time.Millisecond, "x = 3\n"},
	} {
		time.Sleep(time.Until(start.Add(step.at)))
		require.NoError(t, os.WriteFile(path, []byte(step.content), 0o644))

		if step.at == 300*time.Millisecond {
			require.Eventually(t, func() bool { return f.host.reloads() == 1 }, time.Second, 10*time.Millisecond)
		}
	}

	require.Eventually(t, func() bool { return f.host.reloads() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return f.host.reloads() > 2 }, 500*time.Millisecond, 20*time.Millisecond)
}

func TestSession_AtomicSave(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := writeGeometry(t, dir, "x = 1\n")
	startSession(t, f, path, fastOptions())

	tmp := filepath.Join(dir, "doc_geometry.py.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("x = 2\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return f.host.reloads() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_OtherFilesAreIgnored(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := writeGeometry(t, dir, "x = 1\n")
	s := startSession(t, f, path, fastOptions())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))

	require.Eventually(t, func() bool { return s.Status().Ignored > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.host.reloads())
}

func TestSession_DeleteThenRecreate(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	path := writeGeometry(t, dir, "x = 1\n")
	startSession(t, f, path, fastOptions())

	require.NoError(t, os.Remove(path))
	assert.Never(t, func() bool { return f.host.reloads() > 0 || f.host.errorCount() > 0 }, 300*time.Millisecond, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("x = 5\n"), 0o644))
	require.Eventually(t, func() bool { return f.host.reloads() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.host.errorCount())
}

func TestSession_PollingBackend(t *testing.T) {
	f := newFixture(t)
	path := writeGeometry(t, t.TempDir(), "x = 1\n")
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, past, past))

	opts := fastOptions()
	opts.Watch = watcher.Options{Backend: watcher.KindPoll, PollInterval: 20 * time.Millisecond}
	s := startSession(t, f, path, opts)
	assert.Equal(t, watcher.KindPoll, s.Backend())

	// The first observation is only a baseline.
	assert.Never(t, func() bool { return f.host.reloads() > 0 }, 150*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))
	now := time.Now()
	require.NoError(t, os.Chtimes(path, now, now))

	require.Eventually(t, func() bool { return f.host.reloads() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_StopThenStartDoesNotLeak(t *testing.T) {
	f := newFixture(t)
	path := writeGeometry(t, t.TempDir(), "x = 1\n")

	baseline := runtime.NumGoroutine()

	for round := 1; round <= 2; round++ {
		s, err := Start(testLogger(), path, f.deps, fastOptions())
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))
		require.Eventually(t, func() bool { return f.host.reloads() == round }, 2*time.Second, 10*time.Millisecond)

		s.Stop()
		assert.False(t, s.Running())

		// The condition itself runs on a goroutine of its own.
		require.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline+1 }, 2*time.Second, 10*time.Millisecond,
			"goroutines did not return to baseline %d", baseline)
	}
}

func TestSession_ManualReloadBypassesGate(t *testing.T) {
	f := newFixture(t)
	path := writeGeometry(t, t.TempDir(), "x = 1\n")
	s := startSession(t, f, path, Options{Debounce: time.Hour})

	first, err := s.RequestReload()
	require.NoError(t, err)
	second, err := s.RequestReload()
	require.NoError(t, err)
	assert.Less(t, first.Seq, second.Seq)

	require.Eventually(t, func() bool { return f.host.reloads() == 2 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	_, err = s.RequestReload()
	assert.ErrorIs(t, err, domainerrors.ErrNotRunning)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	path := writeGeometry(t, t.TempDir(), "x = 1\n")

	s, err := Start(testLogger(), path, f.deps, fastOptions())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}

func TestSession_ResolvesRelativeTarget(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	writeGeometry(t, dir, "x = 1\n")
	t.Chdir(dir)

	s := startSession(t, f, "doc_geometry.py", fastOptions())

	want, err := filepath.Abs("doc_geometry.py")
	require.NoError(t, err)
	assert.Equal(t, want, s.Target())
}

func TestStart_RequiresTarget(t *testing.T) {
	f := newFixture(t)

	_, err := Start(testLogger(), "", f.deps, fastOptions())
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

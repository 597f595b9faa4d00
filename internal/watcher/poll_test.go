package watcher

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoll(t *testing.T, target string) *pollBackend {
	t.Helper()
	b := newPollBackend(testLogger(), Options{PollInterval: 20 * time.Millisecond})
	require.NoError(t, b.Watch(target))
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func queued(t *testing.T, b *pollBackend) Event {
	t.Helper()
	select {
	case event := <-b.events:
		return event
	default:
		t.Fatal("expected a queued event")
		return Event{}
	}
}

func assertNothingQueued(t *testing.T, b *pollBackend) {
	t.Helper()
	select {
	case event := <-b.events:
		t.Fatalf("unexpected event: %+v", event)
	case err := <-b.errors:
		t.Fatalf("unexpected error: %v", err)
	default:
	}
}

func TestPoll_FirstObservationIsBaseline(t *testing.T) {
	path := writeTarget(t, "x = 1\n")
	// Even a modification time far in the future is only a baseline.
	setModTime(t, path, time.Now().Add(time.Hour))

	b := newTestPoll(t, path)

	b.check()
	assertNothingQueued(t, b)

	b.check()
	assertNothingQueued(t, b)
}

func TestPoll_EmitsOnEveryIncrease(t *testing.T) {
	path := writeTarget(t, "x = 1\n")
	base := time.Now().Add(-time.Minute)
	setModTime(t, path, base)

	b := newTestPoll(t, path)
	b.check()

	for i := 1; i <= 3; i++ {
		mtime := base.Add(time.Duration(i) * time.Second)
		setModTime(t, path, mtime)
		b.check()

		event := queued(t, b)
		assert.Equal(t, EventModified, event.Type)
		assert.Equal(t, path, event.Path)
		assert.True(t, event.ModTime.Equal(mtime))
		assert.True(t, event.Affects(path))
	}

	// An older timestamp is not a change.
	setModTime(t, path, base)
	b.check()
	assertNothingQueued(t, b)
}

func TestPoll_MissingFileSkipsSilently(t *testing.T) {
	path := writeTarget(t, "x = 1\n")
	base := time.Now().Add(-time.Minute)
	setModTime(t, path, base)

	b := newTestPoll(t, path)
	b.check()

	require.NoError(t, os.Remove(path))
	b.check()
	b.check()
	assertNothingQueued(t, b)

	// Recreating and modifying the file resumes change detection.
	require.NoError(t, os.WriteFile(path, []byte("x = 2\n"), 0o644))
	setModTime(t, path, base.Add(5*time.Second))
	b.check()

	event := queued(t, b)
	assert.Equal(t, EventModified, event.Type)
}

func TestPoll_MissingAtStartBaselinesOnFirstSighting(t *testing.T) {
	path := writeTarget(t, "")
	require.NoError(t, os.Remove(path))

	b := newTestPoll(t, path)
	b.check()
	assertNothingQueued(t, b)

	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
	b.check()
	assertNothingQueued(t, b)
}

func TestPoll_StartDetectsChangeAndStops(t *testing.T) {
	path := writeTarget(t, "x = 1\n")
	setModTime(t, path, time.Now().Add(-time.Minute))

	b := newPollBackend(testLogger(), Options{PollInterval: 20 * time.Millisecond})
	require.NoError(t, b.Watch(path))
	startBackend(t, b)

	// Let a few cycles record the baseline.
	time.Sleep(100 * time.Millisecond)
	setModTime(t, path, time.Now())

	event := waitForEvent(t, b, 2*time.Second, affects(path))
	assert.Equal(t, EventModified, event.Type)

	stopped := make(chan error, 1)
	go func() { stopped <- b.Stop() }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return within one period")
	}

	_, open := <-b.Events()
	assert.False(t, open)
	assert.NoError(t, b.Stop(), "second Stop is a no-op")
}

func TestPoll_StartAfterStop(t *testing.T) {
	b := newPollBackend(testLogger(), Options{PollInterval: time.Second})
	require.NoError(t, b.Watch("/tmp/doc_geometry.py"))
	require.NoError(t, b.Stop())

	assert.ErrorIs(t, b.Start(t.Context()), ErrStopped)
}

func TestPoll_WatchRequiresTarget(t *testing.T) {
	b := newPollBackend(testLogger(), Options{PollInterval: time.Second})
	assert.Error(t, b.Watch(""))
	assert.Equal(t, KindPoll, b.Kind())
}

package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
	"github.com/listenupapp/geomwatch/internal/http/response"
)

// openStream connects to the handler and returns a reader over the stream.
func openStream(t *testing.T, m *Manager, query string) *bufio.Reader {
	t.Helper()

	srv := httptest.NewServer(NewHandler(m, testLogger()))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+query, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func readFrame(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()

	var eventType, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			return eventType, data
		}
	}
}

func serveOnce(m *Manager, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	NewHandler(m, testLogger()).ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	return env
}

func TestHandler_StreamsEvents(t *testing.T) {
	m := startManager(t)
	reader := openStream(t, m, "")

	eventType, data := readFrame(t, reader)
	assert.Equal(t, EventConnected, eventType)
	assert.Contains(t, data, "client_id")
	assert.NotContains(t, data, "types")

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, time.Millisecond)
	m.Publish(string(EventReloadSucceeded), ReloadEventData{Path: "/tmp/doc_geometry.py", Outcome: "succeeded"})

	eventType, data = readFrame(t, reader)
	assert.Equal(t, "reload.succeeded", eventType)
	assert.Contains(t, data, `"path":"/tmp/doc_geometry.py"`)
}

func TestHandler_FiltersByType(t *testing.T) {
	m := startManager(t)
	reader := openStream(t, m, "?types=reload.failed,session.stopped")

	eventType, data := readFrame(t, reader)
	assert.Equal(t, EventConnected, eventType)
	assert.Contains(t, data, `"types":["session.stopped","reload.failed"]`)

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, time.Millisecond)
	m.Publish(string(EventReloadSucceeded), ReloadEventData{Seq: 1, Outcome: "succeeded"})
	m.Publish(string(EventUIRefresh), DocumentEventData{})
	m.Publish(string(EventReloadFailed), ReloadEventData{Seq: 2, Outcome: "failed", Error: "SyntaxError"})

	eventType, data = readFrame(t, reader)
	assert.Equal(t, "reload.failed", eventType)
	assert.Contains(t, data, "SyntaxError")
}

func TestHandler_UnknownTypeIsRejected(t *testing.T) {
	m := NewManager(testLogger())

	rec := serveOnce(m, http.MethodGet, "/api/v1/events?types=reload.failed,reload.exploded")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeFailure(t, rec)
	assert.Equal(t, string(domainerrors.CodeValidation), env.Code)
	assert.Contains(t, env.Error, "reload.exploded")
	assert.Equal(t, 0, m.ClientCount())
}

func TestHandler_RejectsNonGet(t *testing.T) {
	rec := serveOnce(NewManager(testLogger()), http.MethodPost, "/api/v1/events")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	decodeFailure(t, rec)
}

func TestHandler_UnavailableAfterShutdown(t *testing.T) {
	m := NewManager(testLogger())
	go m.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	rec := serveOnce(m, http.MethodGet, "/api/v1/events")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decodeFailure(t, rec)
	assert.Equal(t, string(domainerrors.CodeUnavailable), env.Code)
}

func TestParseEventTypes(t *testing.T) {
	filter, err := ParseEventTypes("")
	require.NoError(t, err)
	assert.True(t, filter.Allows(EventSessionStarted))
	assert.Nil(t, filter.List())

	filter, err = ParseEventTypes(" reload.skipped , ,document.recomputed")
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventReloadSkipped, EventDocumentRecomputed}, filter.List())
	assert.True(t, filter.Allows(EventHeartbeat), "heartbeats always pass")
	assert.False(t, filter.Allows(EventReloadSucceeded))

	_, err = ParseEventTypes("connected")
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

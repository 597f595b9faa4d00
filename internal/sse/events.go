// Package sse implements Server-Sent Events for live reload and session updates.
package sse

import (
	"slices"
	"time"

	"github.com/listenupapp/geomwatch/internal/reload"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventSessionStarted is sent when a watch session starts.
	EventSessionStarted EventType = "session.started"
	// EventSessionStopped is sent when a watch session stops.
	EventSessionStopped EventType = "session.stopped"

	// EventReloadSucceeded is sent after the watched file was applied.
	EventReloadSucceeded EventType = "reload.succeeded"
	// EventReloadFailed is sent when applying the file failed.
	EventReloadFailed EventType = "reload.failed"
	// EventReloadSkipped is sent when the file was missing at reload time.
	EventReloadSkipped EventType = "reload.skipped"

	// EventDocumentRecomputed is sent when the host recomputed its document.
	EventDocumentRecomputed EventType = "document.recomputed"
	// EventUIRefresh is sent when the host refreshed its views.
	EventUIRefresh EventType = "ui.refresh"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

var eventTypes = []EventType{
	EventSessionStarted,
	EventSessionStopped,
	EventReloadSucceeded,
	EventReloadFailed,
	EventReloadSkipped,
	EventDocumentRecomputed,
	EventUIRefresh,
	EventHeartbeat,
}

// Known reports whether t is one of the event types the daemon emits.
func (t EventType) Known() bool {
	return slices.Contains(eventTypes, t)
}

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// ReloadEventData is the data payload for reload events.
type ReloadEventData struct {
	RequestID  string  `json:"request_id"`
	Seq        uint64  `json:"seq"`
	Path       string  `json:"path"`
	Trigger    string  `json:"trigger"`
	Outcome    string  `json:"outcome"`
	Error      string  `json:"error,omitempty"`
	Bytes      int     `json:"bytes"`
	DurationMS float64 `json:"duration_ms"`
	Recomputed bool    `json:"recomputed"`
}

// DocumentEventData is the data payload for host document events.
type DocumentEventData struct {
	Document string `json:"document,omitempty"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewEvent creates an event of the given type.
func NewEvent(eventType EventType, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewReloadEvent creates the event describing a finished reload.
func NewReloadEvent(result reload.Result) Event {
	eventType := EventReloadSucceeded
	switch result.Outcome {
	case reload.OutcomeFailed:
		eventType = EventReloadFailed
	case reload.OutcomeSkipped:
		eventType = EventReloadSkipped
	case reload.OutcomeSucceeded:
	}

	return Event{
		Type:      eventType,
		Timestamp: result.FinishedAt,
		Data: ReloadEventData{
			RequestID:  result.Request.ID,
			Seq:        result.Request.Seq,
			Path:       result.Request.Path,
			Trigger:    string(result.Request.Trigger),
			Outcome:    string(result.Outcome),
			Error:      result.ErrorMessage(),
			Bytes:      result.Bytes,
			DurationMS: float64(result.Duration.Microseconds()) / 1000,
			Recomputed: result.Recomputed,
		},
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Timestamp: now,
		Data: HeartbeatEventData{
			ServerTime: now,
		},
	}
}

package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
	"github.com/listenupapp/geomwatch/internal/http/response"
)

// EventConnected is the first frame of every stream.
const EventConnected = "connected"

// writeTimeout is renewed after every frame so a stuck client is dropped.
const writeTimeout = 60 * time.Second

// Handler streams reload and session events at GET /api/v1/events.
// The optional types query parameter, a comma-separated list of event
// types, limits the stream to those events. Heartbeats are always sent.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// connectedData is the payload of the connected frame.
type connectedData struct {
	ClientID string      `json:"client_id"`
	Types    []EventType `json:"types,omitempty"`
}

// ServeHTTP handles the SSE connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		response.MethodNotAllowed(w, r.Method+" not allowed on "+r.URL.Path, h.logger)
		return
	}

	filter, err := ParseEventTypes(r.URL.Query().Get("types"))
	if err != nil {
		response.HandleError(w, err, h.logger)
		return
	}

	// Early client disconnect.
	if r.Context().Err() != nil {
		return
	}

	client, err := h.manager.Connect()
	if err != nil {
		if errors.Is(err, ErrShuttingDown) {
			err = domainerrors.Unavailable("event stream is shutting down")
		}
		response.HandleError(w, err, h.logger)
		return
	}
	defer h.manager.Disconnect(client.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	log := h.logger.With(slog.String("client_id", client.ID))

	if err := h.sendFrame(w, rc, EventConnected, connectedData{ClientID: client.ID, Types: filter.List()}); err != nil {
		log.Warn("failed to open event stream", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	for {
		select {
		case event, ok := <-client.EventChan:
			if !ok {
				log.Info("client closed by manager")
				return
			}
			if !filter.Allows(event.Type) {
				continue
			}
			if err := h.sendFrame(w, rc, string(event.Type), event); err != nil {
				log.Info("client disconnected during send")
				return
			}

		case <-client.Done:
			log.Info("client closed by manager")
			return

		case <-ctx.Done():
			log.Debug("client went away")
			return
		}
	}
}

// sendFrame writes one event frame and flushes it.
func (h *Handler) sendFrame(w http.ResponseWriter, rc *http.ResponseController, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}

	if err := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		h.logger.Debug("write deadline unsupported", slog.String("error", err.Error()))
	}
	return nil
}

// TypeFilter is a set of subscribed event types. The empty filter allows
// everything.
type TypeFilter map[EventType]struct{}

// ParseEventTypes parses a comma-separated list of event types.
func ParseEventTypes(raw string) (TypeFilter, error) {
	filter := TypeFilter{}
	for name := range strings.SplitSeq(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t := EventType(name)
		if !t.Known() {
			return nil, domainerrors.Validationf("unknown event type %q", name)
		}
		filter[t] = struct{}{}
	}
	return filter, nil
}

// Allows reports whether events of type t pass the filter.
func (f TypeFilter) Allows(t EventType) bool {
	if len(f) == 0 || t == EventHeartbeat {
		return true
	}
	_, ok := f[t]
	return ok
}

// List returns the subscribed types in declaration order.
func (f TypeFilter) List() []EventType {
	var out []EventType
	for _, t := range eventTypes {
		if _, ok := f[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

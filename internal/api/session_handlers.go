package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/listenupapp/geomwatch/internal/errors"
	"github.com/listenupapp/geomwatch/internal/reload"
	"github.com/listenupapp/geomwatch/internal/session"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/session",
		Summary:     "Get watch session",
		Description: "Returns the running watch session and reload statistics",
		Tags:        []string{"Session"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "startSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/session",
		Summary:     "Start watch session",
		Description: "Starts watching a file. Starting the file already watched returns the running session.",
		Tags:        []string{"Session"},
	}, s.handleStartSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "stopSession",
		Method:      http.MethodDelete,
		Path:        "/api/v1/session",
		Summary:     "Stop watch session",
		Description: "Stops the running watch session, if any",
		Tags:        []string{"Session"},
	}, s.handleStopSession)

	huma.Register(s.api, huma.Operation{
		OperationID:   "reloadSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/session/reload",
		Summary:       "Reload now",
		Description:   "Queues a reload of the watched file on the main loop, bypassing the debounce gate",
		Tags:          []string{"Session"},
		DefaultStatus: http.StatusAccepted,
		Middlewares:   huma.Middlewares{s.limitReloads},
	}, s.handleReload)
}

// SessionResponse describes the running session.
type SessionResponse struct {
	Session  session.Status `json:"session" doc:"Watch session status"`
	Executor reload.Stats   `json:"executor" doc:"Reload statistics"`
}

// SessionOutput wraps the session response for Huma.
type SessionOutput struct {
	Body SessionResponse
}

// StartSessionInput is the request to start watching a file.
type StartSessionInput struct {
	Body struct {
		Path string `json:"path" minLength:"1" doc:"File to watch. Relative paths resolve against the server's working directory."`
	}
}

// StopSessionOutput reports whether a session was stopped.
type StopSessionOutput struct {
	Body struct {
		Stopped bool `json:"stopped" doc:"False when no session was running"`
	}
}

// ReloadOutput returns the queued request.
type ReloadOutput struct {
	Body reload.Request
}

func (s *Server) handleGetSession(_ context.Context, _ *struct{}) (*SessionOutput, error) {
	current, ok := s.services.Sessions.Current()
	if !ok {
		return nil, toHumaError(domainerrors.NotFound("no watch session running"))
	}
	return s.sessionOutput(current), nil
}

func (s *Server) handleStartSession(_ context.Context, input *StartSessionInput) (*SessionOutput, error) {
	started, err := s.services.Sessions.Start(input.Body.Path)
	if err != nil {
		return nil, toHumaError(err)
	}
	return s.sessionOutput(started), nil
}

func (s *Server) handleStopSession(_ context.Context, _ *struct{}) (*StopSessionOutput, error) {
	out := &StopSessionOutput{}
	out.Body.Stopped = s.services.Sessions.Stop()
	return out, nil
}

func (s *Server) handleReload(_ context.Context, _ *struct{}) (*ReloadOutput, error) {
	current, ok := s.services.Sessions.Current()
	if !ok {
		return nil, toHumaError(domainerrors.NotRunning("no watch session running"))
	}

	req, err := current.RequestReload()
	if err != nil {
		return nil, toHumaError(err)
	}

	s.logger.Info("manual reload requested", "request_id", req.ID, "seq", req.Seq)
	return &ReloadOutput{Body: req}, nil
}

func (s *Server) sessionOutput(current *session.Session) *SessionOutput {
	out := &SessionOutput{Body: SessionResponse{Session: current.Status()}}
	if s.services.Executor != nil {
		out.Body.Executor = s.services.Executor.Stats()
	}
	return out
}

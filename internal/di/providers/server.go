package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/listenupapp/geomwatch/internal/api"
	"github.com/listenupapp/geomwatch/internal/config"
	"github.com/listenupapp/geomwatch/internal/logger"
	"github.com/listenupapp/geomwatch/internal/mainloop"
	"github.com/listenupapp/geomwatch/internal/reload"
	"github.com/listenupapp/geomwatch/internal/session"
)

// HTTPServerHandle wraps http.Server with Shutdownable. Server is nil when
// the control API is disabled.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	if h.Server == nil {
		return nil
	}
	defer h.api.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the control API server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Server.Enabled {
		log.Info("Control API disabled by configuration")
		return &HTTPServerHandle{}, nil
	}

	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	services := &api.Services{
		Sessions: do.MustInvoke[*session.Manager](i),
		Executor: do.MustInvoke[*reload.Executor](i),
		Loop:     do.MustInvoke[*mainloop.Loop](i),
		Events:   sseHandle.Manager,
	}

	handler := api.NewServer(services, api.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		ReloadRate:     cfg.Server.ReloadRate,
		ReloadBurst:    cfg.Server.ReloadBurst,
	}, log.Component("api").Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Event streams never go idle, so end them when shutdown begins.
	srv.RegisterOnShutdown(sseHandle.DisconnectAll)

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv, api: handler}, nil
}

// Package di provides dependency injection configuration for geomwatch.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/geomwatch/internal/config"
	"github.com/listenupapp/geomwatch/internal/di/providers"
	"github.com/listenupapp/geomwatch/internal/host"
	"github.com/listenupapp/geomwatch/internal/logger"
	"github.com/listenupapp/geomwatch/internal/mainloop"
	"github.com/listenupapp/geomwatch/internal/reload"
	"github.com/listenupapp/geomwatch/internal/session"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	do.Provide(injector, providers.ProvideConfig)
	registerProviders(injector)

	return injector
}

// registerProviders registers everything except the configuration.
func registerProviders(injector do.Injector) {
	// Core infrastructure
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSSEManager)

	// Reload pipeline
	do.Provide(injector, providers.ProvideLoop)
	do.Provide(injector, providers.ProvideHost)
	do.Provide(injector, providers.ProvideExecutor)
	do.Provide(injector, providers.ProvideSessionManager)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)
}

// Bootstrap initializes all services and starts watching the configured
// file. The main loop is not started; the caller runs it.
func Bootstrap(injector do.Injector) error {
	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return err
	}

	log := do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*mainloop.Loop](injector)
	_ = do.MustInvoke[*host.CommandHost](injector)
	_ = do.MustInvoke[*reload.Executor](injector)
	sessions := do.MustInvoke[*session.Manager](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	s, err := sessions.Start(cfg.Watch.Path)
	if err != nil {
		return err
	}
	log.Info("Watching for changes", "path", s.Target(), "backend", s.Backend(), "session_id", s.ID())

	return nil
}

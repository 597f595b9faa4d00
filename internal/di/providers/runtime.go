package providers

import (
	"path/filepath"
	"strings"

	"github.com/samber/do/v2"

	"github.com/listenupapp/geomwatch/internal/config"
	"github.com/listenupapp/geomwatch/internal/host"
	"github.com/listenupapp/geomwatch/internal/logger"
	"github.com/listenupapp/geomwatch/internal/mainloop"
	"github.com/listenupapp/geomwatch/internal/reload"
	"github.com/listenupapp/geomwatch/internal/session"
	"github.com/listenupapp/geomwatch/internal/sse"
	"github.com/listenupapp/geomwatch/internal/watcher"
)

// ProvideLoop provides the main loop. The caller runs it on the main goroutine.
func ProvideLoop(i do.Injector) (*mainloop.Loop, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return mainloop.New(log.Component("mainloop").Logger), nil
}

// ProvideHost provides the interpreter host the watched file is applied to.
func ProvideHost(i do.Injector) (*host.CommandHost, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	h := host.NewCommandHost(host.Config{
		Interpreter:  cfg.Exec.Interpreter,
		Args:         cfg.Exec.Args,
		Timeout:      cfg.Exec.Timeout,
		DocumentPath: cfg.Watch.DocumentPath,
	}, log.Component("host").Logger, sseHandle.Manager)

	if cfg.Watch.DocumentPath == "" {
		log.Warn("No document configured, reloads will not recompute")
	}

	return h, nil
}

// ProvideExecutor provides the reload executor and forwards its results to
// the event stream.
func ProvideExecutor(i do.Injector) (*reload.Executor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	h := do.MustInvoke[*host.CommandHost](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	executor := reload.NewExecutor(h, log.Component("reload").Logger, reload.Options{
		Extra:   cfg.Exec.Bindings,
		Modules: moduleBindings(cfg.Exec.ModuleFiles),
	})
	executor.OnResult(func(result reload.Result) {
		sseHandle.Emit(sse.NewReloadEvent(result))
	})

	return executor, nil
}

// moduleBindings binds each YAML file under its base name without extension.
func moduleBindings(paths []string) []reload.Module {
	modules := make([]reload.Module, 0, len(paths))
	for _, path := range paths {
		modules = append(modules, reload.Module{
			Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Load: func() (any, error) { return config.LoadBindings(path) },
		})
	}
	return modules
}

// ProvideSessionManager provides the watch session manager. It implements
// Shutdown, so the container stops the running session at exit.
func ProvideSessionManager(i do.Injector) (*session.Manager, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	loop := do.MustInvoke[*mainloop.Loop](i)
	executor := do.MustInvoke[*reload.Executor](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	return session.NewManager(log.Component("session").Logger,
		session.Deps{Loop: loop, Executor: executor},
		session.Options{
			Watch: watcher.Options{
				Backend:      watcher.Kind(cfg.Watch.Backend),
				PollInterval: cfg.Watch.PollInterval,
			},
			Debounce: cfg.Watch.Debounce,
		},
		sseHandle.Manager,
	), nil
}

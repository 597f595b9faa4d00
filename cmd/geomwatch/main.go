// Package main provides the entry point for the geomwatch daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/listenupapp/geomwatch/internal/di"
	"github.com/listenupapp/geomwatch/internal/logger"
	"github.com/listenupapp/geomwatch/internal/mainloop"
)

// Reloads run on the main loop, which runs on the main goroutine, which
// stays on the process's main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	// Create DI container
	injector := di.NewContainer()

	// Bootstrap all services and start the watch session
	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start geomwatch: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)
	loop := do.MustInvoke[*mainloop.Loop](injector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Main loop running", "thread_id", mainloop.CurrentThreadID())
	if err := loop.Run(ctx); err != nil {
		log.WithError(err).Error("Main loop failed")
	}

	log.Info("Shutting down gracefully...")

	// Dependents go first: HTTP server, watch session, then the SSE drain.
	if err := injector.Shutdown(); err != nil {
		log.WithError(err).Error("Shutdown error")
	}

	log.Info("Stopped", "tasks_processed", loop.Processed())
}

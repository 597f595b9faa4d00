package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// pollBackend compares the target's modification time on a fixed period.
// It is the backend of last resort and never fails to initialise.
type pollBackend struct {
	lifecycle

	logger   *slog.Logger
	interval time.Duration
	target   string

	// Only touched by the polling goroutine.
	lastMod   time.Time
	baselined bool
	checks    uint64
	heartbeat rate.Sometimes
}

func newPollBackend(logger *slog.Logger, opts Options) *pollBackend {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	b := &pollBackend{
		logger:    logger,
		interval:  opts.PollInterval,
		heartbeat: rate.Sometimes{Every: 10},
	}
	b.init()
	return b
}

// Kind implements Backend.
func (b *pollBackend) Kind() Kind {
	return KindPoll
}

// Watch records the target. A missing file is fine; polling waits for it.
func (b *pollBackend) Watch(target string) error {
	if target == "" {
		return errors.New("poll: empty target")
	}
	b.target = filepath.Clean(target)
	return nil
}

// Start begins polling and blocks until the context is cancelled or Stop is called.
func (b *pollBackend) Start(ctx context.Context) error {
	if b.target == "" {
		return errors.New("poll: Watch must be called before Start")
	}
	if err := b.spawn(func() { b.run(ctx) }); err != nil {
		return err
	}
	b.wait(ctx)
	return nil
}

// Stop stops polling. The loop exits at its next select, well within one period.
func (b *pollBackend) Stop() error {
	return b.shutdown(nil)
}

func (b *pollBackend) run(ctx context.Context) {
	b.logger.Debug("polling started", "path", b.target, "interval", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.check()
		}
	}
}

// check runs one polling cycle. Nothing in here ends the loop.
func (b *pollBackend) check() {
	info, err := os.Stat(b.target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.logger.Debug("watched file missing, skipping cycle", "path", b.target)
			return
		}
		b.logger.Warn("poll check failed", "path", b.target, "error", err)
		b.reportError(fmt.Errorf("poll %s: %w", b.target, err))
		return
	}

	b.checks++
	b.heartbeat.Do(func() {
		b.logger.Debug("poll check", "path", b.target, "count", b.checks, "mtime", info.ModTime())
	})

	modTime := info.ModTime()
	if !b.baselined {
		b.lastMod = modTime
		b.baselined = true
		b.logger.Debug("poll baseline recorded", "path", b.target, "mtime", modTime)
		return
	}

	if !modTime.After(b.lastMod) {
		return
	}
	b.lastMod = modTime

	b.emitEvent(Event{
		Type:    EventModified,
		Path:    b.target,
		IsDir:   info.IsDir(),
		ModTime: modTime,
	})
}

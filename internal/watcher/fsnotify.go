package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyBackend implements Backend on top of fsnotify. It works on every
// platform fsnotify supports.
type fsnotifyBackend struct {
	lifecycle

	logger  *slog.Logger
	opts    Options
	watcher *fsnotify.Watcher
	dir     string
}

// newFsnotifyBackend creates a backend using fsnotify
func newFsnotifyBackend(logger *slog.Logger, opts Options) (*fsnotifyBackend, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	b := &fsnotifyBackend{
		logger:  logger,
		opts:    opts,
		watcher: watcher,
	}
	b.init()
	return b, nil
}

// Kind implements Backend.
func (b *fsnotifyBackend) Kind() Kind {
	return KindFsnotify
}

// Watch watches a single file by watching its parent directory
func (b *fsnotifyBackend) Watch(target string) error {
	dir := filepath.Dir(filepath.Clean(target))

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat parent directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("parent of %s is not a directory", target)
	}

	if err := b.watcher.Add(dir); err != nil {
		return fmt.Errorf("fsnotify add %s: %w", dir, err)
	}

	b.dir = dir
	b.logger.Debug("added watch", "path", dir)
	return nil
}

// Start begins watching for events
func (b *fsnotifyBackend) Start(ctx context.Context) error {
	if err := b.spawn(func() { b.processEvents(ctx) }); err != nil {
		return err
	}
	b.wait(ctx)
	return nil
}

// processEvents processes fsnotify events
func (b *fsnotifyBackend) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handleFsnotifyEvent(event)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("fsnotify error", "error", err)
			b.reportError(err)
		}
	}
}

// handleFsnotifyEvent translates an fsnotify event.
// Create is how a rename onto an existing name shows up, so it is treated as
// a move into place.
func (b *fsnotifyBackend) handleFsnotifyEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if b.opts.shouldIgnore(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		b.logger.Debug("fsnotify removal", "path", path, "op", event.Op.String())
		b.emitEvent(Event{Type: EventRemoved, Path: path})

	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			b.logger.Debug("created file vanished", "path", path, "error", err)
			return
		}
		b.emitEvent(Event{
			Type:     EventMoved,
			Path:     path,
			DestPath: path,
			IsDir:    info.IsDir(),
			ModTime:  info.ModTime(),
		})

	case event.Has(fsnotify.Write):
		event := Event{Type: EventModified, Path: path}
		if info, err := os.Stat(path); err == nil {
			event.IsDir = info.IsDir()
			event.ModTime = info.ModTime()
		}
		b.emitEvent(event)
	}
}

// Stop stops the watcher
func (b *fsnotifyBackend) Stop() error {
	return b.shutdown(b.watcher.Close)
}

// Package watcher detects changes to a single file.
//
// Three backends share the Backend contract: raw inotify (Linux), fsnotify
// and mtime polling. Open tries them in order and settles on the first one
// that attaches, so exactly one is active per watched file.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Open creates a backend for target and attaches it. Any failure to create
// or attach an event-driven backend falls back to the next candidate;
// polling is always available.
func Open(logger *slog.Logger, target string, opts Options) (Backend, error) {
	opts.setDefaults()

	if !filepath.IsAbs(target) {
		return nil, fmt.Errorf("watch target must be absolute: %q", target)
	}
	target = filepath.Clean(target)

	var errs []error
	for _, kind := range opts.candidates() {
		backend, err := newBackend(logger, kind, opts)
		if err == nil {
			if err = backend.Watch(target); err != nil {
				_ = backend.Stop()
			}
		}
		if err != nil {
			logger.Warn("change source unavailable, falling back", "backend", kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}

		logger.Info("change source ready", "backend", kind, "path", target)
		return backend, nil
	}

	return nil, errors.Join(errs...)
}

func newBackend(logger *slog.Logger, kind Kind, opts Options) (Backend, error) {
	switch kind {
	case KindInotify:
		b, err := newInotifyBackend(logger, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindFsnotify:
		b, err := newFsnotifyBackend(logger, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindPoll:
		return newPollBackend(logger, opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

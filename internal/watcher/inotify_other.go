//go:build !linux

package watcher

import (
	"errors"
	"log/slog"
)

// newInotifyBackend is a stub for platforms without inotify.
func newInotifyBackend(_ *slog.Logger, _ Options) (Backend, error) {
	return nil, errors.New("inotify backend not available on this platform")
}

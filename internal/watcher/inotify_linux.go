//go:build linux

package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pollTimeoutMillis bounds how long the reader waits before rechecking done.
const pollTimeoutMillis = 100

// inotifyBackend implements Backend using Linux inotify on the target's
// parent directory. IN_CLOSE_WRITE marks a finished write; IN_MOVED_FROM and
// IN_MOVED_TO are paired by cookie so an atomic save carries both paths.
type inotifyBackend struct {
	lifecycle

	logger *slog.Logger
	opts   Options
	fd     int
	wd     int
	dir    string

	// Only touched by the reader goroutine.
	movedFrom map[uint32]string
}

// newInotifyBackend creates a new Linux-specific file watcher backend.
func newInotifyBackend(logger *slog.Logger, opts Options) (*inotifyBackend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inotify: %w", err)
	}

	b := &inotifyBackend{
		logger:    logger,
		opts:      opts,
		fd:        fd,
		wd:        -1,
		movedFrom: make(map[uint32]string),
	}
	b.init()
	return b, nil
}

// Kind implements Backend.
func (b *inotifyBackend) Kind() Kind {
	return KindInotify
}

// Watch watches a single file by watching its parent directory.
func (b *inotifyBackend) Watch(target string) error {
	dir := filepath.Dir(filepath.Clean(target))

	// IN_CLOSE_WRITE: file closed after writing.
	// IN_MOVED_FROM / IN_MOVED_TO: the two halves of a rename.
	// IN_DELETE: file deleted from the directory.
	// IN_DELETE_SELF: the directory itself went away.
	mask := unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO | unix.IN_MOVED_FROM |
		unix.IN_DELETE | unix.IN_DELETE_SELF | unix.IN_ONLYDIR

	wd, err := unix.InotifyAddWatch(b.fd, dir, uint32(mask))
	if err != nil {
		return fmt.Errorf("inotify_add_watch %s: %w", dir, err)
	}

	b.wd = wd
	b.dir = dir
	b.logger.Debug("added watch", "path", dir, "wd", wd)
	return nil
}

// Start begins watching for events.
func (b *inotifyBackend) Start(ctx context.Context) error {
	if b.wd < 0 {
		return errors.New("inotify: Watch must be called before Start")
	}
	if err := b.spawn(func() { b.readEvents(ctx) }); err != nil {
		return err
	}
	b.wait(ctx)
	return nil
}

// readEvents waits on the descriptor with a timeout so that Stop is noticed
// without closing the fd under a blocked read.
func (b *inotifyBackend) readEvents(ctx context.Context) {
	buf := make([]byte, (unix.SizeofInotifyEvent+unix.NAME_MAX+1)*16)
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}} //nolint:gosec // G115: fd is a small non-negative int

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		default:
		}

		n, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			b.reportError(fmt.Errorf("failed to poll inotify fd: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		n, err = unix.Read(b.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			b.reportError(fmt.Errorf("failed to read inotify events: %w", err))
			return
		}

		if n < unix.SizeofInotifyEvent {
			continue
		}

		b.parseEvents(buf[:n])
	}
}

// parseEvents parses raw inotify events.
func (b *inotifyBackend) parseEvents(buf []byte) {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		//nolint:gosec // G103: Legitimate use of unsafe for syscall interface with inotify
		event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += unix.SizeofInotifyEvent + int(event.Len)

		name := ""
		if event.Len > 0 {
			nameBytes := buf[offset-int(event.Len) : offset]
			name = string(nameBytes[:clen(nameBytes)])
		}

		b.processEvent(filepath.Join(b.dir, name), event.Mask, event.Cookie)
	}

	// A rename whose second half never arrived moved the file out of the directory.
	for cookie, path := range b.movedFrom {
		delete(b.movedFrom, cookie)
		b.emitEvent(Event{Type: EventRemoved, Path: path})
	}
}

// processEvent processes a single inotify event.
func (b *inotifyBackend) processEvent(path string, mask, cookie uint32) {
	isDir := mask&unix.IN_ISDIR != 0

	switch {
	case mask&unix.IN_Q_OVERFLOW != 0:
		b.logger.Warn("inotify queue overflow", "path", b.dir)
		b.reportError(errors.New("inotify event queue overflowed"))

	case mask&(unix.IN_DELETE_SELF|unix.IN_IGNORED) != 0:
		b.logger.Warn("watched directory removed", "path", b.dir)
		b.reportError(fmt.Errorf("watched directory %s removed", b.dir))

	case b.opts.shouldIgnore(path):
		return

	case mask&unix.IN_MOVED_FROM != 0:
		b.movedFrom[cookie] = path

	case mask&unix.IN_MOVED_TO != 0:
		source, paired := b.movedFrom[cookie]
		delete(b.movedFrom, cookie)
		if !paired {
			// Moved in from outside the watched directory.
			source = path
		}
		b.logger.Debug("IN_MOVED_TO event", "from", source, "to", path)
		b.emitEvent(Event{
			Type:     EventMoved,
			Path:     source,
			DestPath: path,
			IsDir:    isDir,
			ModTime:  modTime(path),
		})

	case mask&unix.IN_CLOSE_WRITE != 0:
		b.emitEvent(Event{
			Type:    EventModified,
			Path:    path,
			IsDir:   isDir,
			ModTime: modTime(path),
		})

	case mask&unix.IN_DELETE != 0:
		b.logger.Debug("IN_DELETE event", "path", path)
		b.emitEvent(Event{Type: EventRemoved, Path: path, IsDir: isDir})
	}
}

// Stop stops the watcher.
func (b *inotifyBackend) Stop() error {
	return b.shutdown(func() error {
		if b.fd < 0 {
			return nil
		}
		err := unix.Close(b.fd)
		b.fd = -1
		return err
	})
}

func modTime(path string) (t time.Time) {
	if info, err := os.Stat(path); err == nil {
		t = info.ModTime()
	}
	return t
}

// clen returns the length of a null-terminated byte slice.
func clen(n []byte) int {
	for i := 0; i < len(n); i++ {
		if n[i] == 0 {
			return i
		}
	}
	return len(n)
}

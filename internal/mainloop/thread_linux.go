//go:build linux

package mainloop

import "golang.org/x/sys/unix"

// CurrentThreadID returns the calling goroutine's OS thread id.
func CurrentThreadID() int {
	return unix.Gettid()
}

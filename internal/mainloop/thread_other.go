//go:build !linux

package mainloop

// CurrentThreadID is not available on this platform.
func CurrentThreadID() int {
	return 0
}

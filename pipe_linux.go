//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// newPipe returns a non-blocking, close-on-exec pipe as (read, write).
func newPipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

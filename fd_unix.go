//go:build unix

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// probeFD reports an error if fd is not an open descriptor.
func probeFD(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err
}

// isBadDescriptor reports whether a wait error means a registered
// descriptor was closed behind the reactor's back.
func isBadDescriptor(err error) bool {
	return errors.Is(err, unix.EBADF)
}

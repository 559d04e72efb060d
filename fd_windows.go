//go:build windows

package reactor

import (
	"errors"

	"golang.org/x/sys/windows"
)

// probeFD reports an error if fd is not an open handle.
func probeFD(fd int) error {
	_, err := windows.GetFileType(windows.Handle(fd))
	return err
}

// isBadDescriptor reports whether a wait error means a registered handle
// was closed behind the reactor's back.
func isBadDescriptor(err error) bool {
	return errors.Is(err, windows.ERROR_INVALID_HANDLE)
}

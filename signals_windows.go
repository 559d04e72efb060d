//go:build windows

package reactor

import (
	"os"
	"syscall"
)

// os.Interrupt covers both CTRL_C_EVENT and CTRL_BREAK_EVENT.
var (
	shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	childSignals    []os.Signal
)

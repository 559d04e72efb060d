//go:build unix

package reactor

import (
	"os"
	"syscall"
)

var (
	shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	childSignals    = []os.Signal{syscall.SIGCHLD}
)

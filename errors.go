package reactor

import (
	"errors"
	"fmt"
)

// Usage errors. These are returned to the caller and never logged.
var (
	// ErrAlreadyCancelled is returned when a cancelled DelayedCall is modified.
	ErrAlreadyCancelled = errors.New("reactor: delayed call already cancelled")

	// ErrAlreadyCalled is returned when a DelayedCall that already fired is modified.
	ErrAlreadyCalled = errors.New("reactor: delayed call already called")

	// ErrAlreadyRunning is returned by Run, Iterate, or Interleave while the
	// reactor is starting, running, or stopping.
	ErrAlreadyRunning = errors.New("reactor: already running")

	// ErrNotRunning is returned by Stop or Crash when the reactor is not running.
	ErrNotRunning = errors.New("reactor: not running")

	// ErrNotRestartable is returned by Run after a completed shutdown.
	ErrNotRestartable = errors.New("reactor: cannot restart a stopped reactor")

	// ErrReentrantRun is returned when Run is called from the I/O goroutine.
	ErrReentrantRun = errors.New("reactor: cannot call Run from within the reactor")

	// ErrInvalidPhase is returned for a system event phase other than
	// before, during, or after.
	ErrInvalidPhase = errors.New("reactor: invalid system event phase")

	// ErrUnknownTrigger is returned when removing a trigger that is not registered.
	ErrUnknownTrigger = errors.New("reactor: unknown system event trigger")

	// ErrBackendUnsupported is returned when the requested demultiplexer is
	// not available on this platform.
	ErrBackendUnsupported = errors.New("reactor: backend not supported on this platform")

	// ErrFDOutOfRange is returned when a descriptor cannot be represented by
	// the active backend (for example, select beyond FD_SETSIZE).
	ErrFDOutOfRange = errors.New("reactor: file descriptor out of range")

	// ErrBadDescriptor is returned when registering a selectable whose
	// Fileno is negative.
	ErrBadDescriptor = errors.New("reactor: invalid file descriptor")

	// ErrThreadPoolStopped is returned when work is submitted to a stopped pool.
	ErrThreadPoolStopped = errors.New("reactor: thread pool stopped")

	// ErrLoopingCallRunning is returned by LoopingCall.Start when already started.
	ErrLoopingCallRunning = errors.New("reactor: looping call already running")

	// ErrLoopingCallStopped is returned by LoopingCall.Stop and Reset when
	// the call is not running.
	ErrLoopingCallStopped = errors.New("reactor: looping call not running")
)

// Disconnection reasons, passed to ConnectionLost and ReadConnectionLost.
// Use errors.Is to match them, since the reactor may wrap them with detail.
var (
	// ErrConnectionDone indicates a clean close, such as EOF.
	ErrConnectionDone = errors.New("reactor: connection was closed cleanly")

	// ErrConnectionLost indicates an unclean close.
	ErrConnectionLost = errors.New("reactor: connection was lost")
)

// errDescriptorGone is the reason used when a selectable's Fileno reports
// -1 while it is still registered.
var errDescriptorGone = fmt.Errorf("%w: file descriptor went away", ErrConnectionLost)

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e PanicError) Error() string {
	return fmt.Sprintf("reactor: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

package reactor

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Backend identifies an OS readiness facility.
type Backend int

const (
	// BackendDefault selects the preferred backend for the platform: epoll
	// on Linux, kqueue on the BSDs and macOS, and IOCP on Windows.
	BackendDefault Backend = iota
	BackendSelect
	BackendPoll
	BackendEpoll
	BackendKqueue
	BackendIOCP
)

var backendNames = [...]string{
	BackendDefault: "default",
	BackendSelect:  "select",
	BackendPoll:    "poll",
	BackendEpoll:   "epoll",
	BackendKqueue:  "kqueue",
	BackendIOCP:    "iocp",
}

func (b Backend) String() string {
	if b >= 0 && int(b) < len(backendNames) {
		return backendNames[b]
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// ParseBackend converts a backend name, as returned by Backend.String, back
// to a Backend. The empty string maps to BackendDefault.
func ParseBackend(s string) (Backend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return BackendDefault, nil
	}
	for i, name := range backendNames {
		if name == s {
			return Backend(i), nil
		}
	}
	return 0, fmt.Errorf("reactor: unknown backend %q", s)
}

// demultiplexer is the contract every OS facility implements. All methods
// besides wait are called from the I/O goroutine. During Interleave, wait
// runs on a helper goroutine concurrently with update.
type demultiplexer interface {
	backend() Backend

	// update changes the registration of fd from old to new. A zero new
	// interest removes the descriptor.
	update(fd int, old, new Interest) error

	// wait blocks until at least one descriptor is ready or the timeout
	// elapses. A negative timeout blocks indefinitely. Ready events are
	// appended to buf. EINTR is reported as no events.
	wait(timeout time.Duration, buf []readyEvent) ([]readyEvent, error)

	// maxWait is the longest timeout the facility accepts.
	maxWait() time.Duration

	close() error
}

// newDemultiplexer constructs the backend, resolving BackendDefault.
func newDemultiplexer(b Backend) (demultiplexer, error) {
	if b == BackendDefault {
		b = defaultBackend
	}
	factory, ok := backendFactories[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnsupported, b)
	}
	return factory()
}

// AvailableBackends lists the backends usable on this platform, excluding
// BackendDefault.
func AvailableBackends() []Backend {
	var out []Backend
	for b := BackendSelect; b <= BackendIOCP; b++ {
		if _, ok := backendFactories[b]; ok {
			out = append(out, b)
		}
	}
	return out
}

// timeoutMillis converts a timeout to the millisecond form used by poll,
// epoll_wait and GetQueuedCompletionStatus. Positive sub-millisecond values
// round up, so a pending timer never causes a busy loop.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

const maxMillisWait = time.Duration(math.MaxInt32) * time.Millisecond

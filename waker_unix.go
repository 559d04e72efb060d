//go:build unix

package reactor

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// fdWaker writes a byte to w, making r readable. The pair is either a pipe
// or a connected loopback TCP socket pair. After close, wakeUp must not
// touch the descriptors, since their numbers may already be reused.
type fdWaker struct {
	pending atomic.Bool
	buf     [64]byte
	mu      sync.RWMutex
	r, w    int
	closed  bool
}

func newWaker(_ demultiplexer, loopback bool) (waker, error) {
	if loopback {
		return newLoopbackWaker()
	}
	r, w, err := newPipe()
	if err != nil {
		return nil, err
	}
	return &fdWaker{r: r, w: w}, nil
}

func (x *fdWaker) Fileno() int { return x.r }

func (x *fdWaker) DoRead() error {
	// cleared first, so a wake racing the drain is never lost
	x.pending.Store(false)
	for {
		n, err := unix.Read(x.r, x.buf[:])
		if err != nil || n < len(x.buf) {
			return nil
		}
	}
}

func (x *fdWaker) ConnectionLost(error) {}

func (x *fdWaker) wakeUp() {
	if !x.pending.CompareAndSwap(false, true) {
		return
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return
	}
	_, err := unix.Write(x.w, []byte{'x'})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		x.pending.Store(false)
	}
}

func (x *fdWaker) close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	// left set, so later wakes return before taking the lock
	x.pending.Store(true)
	return errors.Join(unix.Close(x.r), unix.Close(x.w))
}

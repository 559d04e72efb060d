//go:build windows

package reactor

import (
	"fmt"
	"sync/atomic"
)

// iocpWaker posts an empty packet to the completion port. The backend
// reports the packet as readiness of wakerFD.
type iocpWaker struct {
	port    *iocpDemux
	pending atomic.Bool
}

func newWaker(d demultiplexer, loopback bool) (waker, error) {
	if loopback {
		return nil, fmt.Errorf("%w: loopback waker", ErrBackendUnsupported)
	}
	port, ok := d.(*iocpDemux)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnsupported, d.backend())
	}
	return &iocpWaker{port: port}, nil
}

func (x *iocpWaker) Fileno() int { return wakerFD }

func (x *iocpWaker) DoRead() error {
	x.pending.Store(false)
	return nil
}

func (x *iocpWaker) ConnectionLost(error) {}

func (x *iocpWaker) wakeUp() {
	if !x.pending.CompareAndSwap(false, true) {
		return
	}
	if err := x.port.post(); err != nil {
		x.pending.Store(false)
	}
}

func (x *iocpWaker) close() error { return nil }

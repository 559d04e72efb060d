//go:build windows

package reactor

import (
	"errors"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// iocpWakeKey is the completion key of packets posted by the waker.
const iocpWakeKey = ^uintptr(0)

// wakerFD is the pseudo-descriptor the waker is registered under. Wake
// packets carry no handle, so the backend reports them against this value.
const wakerFD = -2

// iocpEntry tracks one socket. Readiness is detected by keeping zero-byte
// overlapped operations outstanding: a WSARecv for readers, whose
// completion means data (or EOF) is available, and a WSASend for writers,
// which completes once the socket accepts sends. The struct must not move
// while either is pending.
type iocpEntry struct {
	ov       windows.Overlapped
	wov      windows.Overlapped
	interest Interest
	pending  bool
	wpending bool
}

// iocpDemux emulates readiness on a completion port. Descriptors must be
// socket handles not already associated with another port, which excludes
// sockets owned by the net package. DoWrite is still expected to handle
// WSAEWOULDBLOCK.
type iocpDemux struct {
	entries map[int]*iocpEntry
	retired map[*windows.Overlapped]*iocpEntry
	port    windows.Handle
	mu      sync.Mutex
	closed  bool
}

func newIOCPDemux() (demultiplexer, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &iocpDemux{
		entries: make(map[int]*iocpEntry),
		retired: make(map[*windows.Overlapped]*iocpEntry),
		port:    port,
	}, nil
}

func (d *iocpDemux) backend() Backend { return BackendIOCP }

func (d *iocpDemux) maxWait() time.Duration { return maxMillisWait }

// post queues a wake packet. Safe from any goroutine, and a no-op once the
// port is closed.
func (d *iocpDemux) post() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return windows.PostQueuedCompletionStatus(d.port, 0, iocpWakeKey, nil)
}

func (d *iocpDemux) update(fd int, old, new Interest) error {
	if fd == wakerFD {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.entries[fd]
	if new == 0 {
		if e == nil {
			return nil
		}
		delete(d.entries, fd)
		if e.pending {
			d.retired[&e.ov] = e
			_ = windows.CancelIoEx(windows.Handle(fd), &e.ov)
		}
		if e.wpending {
			d.retired[&e.wov] = e
			_ = windows.CancelIoEx(windows.Handle(fd), &e.wov)
		}
		return nil
	}

	if e == nil {
		_, err := windows.CreateIoCompletionPort(windows.Handle(fd), d.port, uintptr(fd), 0)
		// already associated with this port, from an earlier registration
		if err != nil && !errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return err
		}
		e = &iocpEntry{}
		d.entries[fd] = e
	}
	e.interest = new
	return d.armAll(fd, e)
}

// armAll must be called with mu held. A send left pending after write
// interest is dropped completes unreported.
func (d *iocpDemux) armAll(fd int, e *iocpEntry) error {
	if e.interest&InterestRead != 0 && !e.pending {
		if err := d.arm(fd, e); err != nil {
			return err
		}
	}
	if e.interest&InterestWrite != 0 && !e.wpending {
		return d.armWrite(fd, e)
	}
	return nil
}

// arm must be called with mu held.
func (d *iocpDemux) arm(fd int, e *iocpEntry) error {
	var (
		buf   windows.WSABuf
		n     uint32
		flags uint32
	)
	e.ov = windows.Overlapped{}
	err := windows.WSARecv(windows.Handle(fd), &buf, 1, &n, &flags, &e.ov, nil)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		return err
	}
	e.pending = true
	return nil
}

// armWrite must be called with mu held.
func (d *iocpDemux) armWrite(fd int, e *iocpEntry) error {
	var (
		buf windows.WSABuf
		n   uint32
	)
	e.wov = windows.Overlapped{}
	err := windows.WSASend(windows.Handle(fd), &buf, 1, &n, 0, &e.wov, nil)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		return err
	}
	e.wpending = true
	return nil
}

func (d *iocpDemux) wait(timeout time.Duration, buf []readyEvent) ([]readyEvent, error) {
	d.mu.Lock()
	for fd, e := range d.entries {
		if err := d.armAll(fd, e); err != nil {
			buf = append(buf, readyEvent{fd: fd, events: EventError})
		}
	}
	d.mu.Unlock()

	if len(buf) != 0 {
		timeout = 0
	}
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeoutMillis(timeout))
	}

	for i := 0; i < 256; i++ {
		var (
			qty uint32
			key uintptr
			ov  *windows.Overlapped
		)
		err := windows.GetQueuedCompletionStatus(d.port, &qty, &key, &ov, ms)
		ms = 0
		if ov == nil {
			if err != nil {
				if errno, ok := err.(syscall.Errno); ok && errno == windows.WAIT_TIMEOUT {
					break
				}
				return buf, err
			}
			if key == iocpWakeKey {
				buf = append(buf, readyEvent{fd: wakerFD, events: EventRead})
			}
			continue
		}

		fd := int(key)
		d.mu.Lock()
		if _, ok := d.retired[ov]; ok {
			delete(d.retired, ov)
			d.mu.Unlock()
			continue
		}
		e := d.entries[fd]
		var ev Event
		switch {
		case e == nil:
		case ov == &e.ov:
			e.pending = false
			ev = EventRead
		case ov == &e.wov:
			e.wpending = false
			if e.interest&InterestWrite != 0 {
				ev = EventWrite
			}
		}
		d.mu.Unlock()
		if ev == 0 {
			continue
		}

		if err != nil {
			if errors.Is(err, windows.ERROR_OPERATION_ABORTED) {
				continue
			}
			ev = EventError
		}
		buf = append(buf, readyEvent{fd: fd, events: ev})
	}
	return buf, nil
}

func (d *iocpDemux) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return windows.CloseHandle(d.port)
}

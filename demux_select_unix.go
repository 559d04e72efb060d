//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fdSetSize is FD_SETSIZE, derived from the size of the fd_set bitmap.
const fdSetSize = int(unsafe.Sizeof(unix.FdSet{})) * 8

// selectDemux is the portable fallback, limited to descriptors below
// FD_SETSIZE.
type selectDemux struct {
	readers unix.FdSet
	writers unix.FdSet
	counts  map[int]Interest
	maxFD   int
	mu      sync.Mutex
}

func newSelectDemux() (demultiplexer, error) {
	return &selectDemux{counts: make(map[int]Interest), maxFD: -1}, nil
}

func (d *selectDemux) backend() Backend { return BackendSelect }

func (d *selectDemux) maxWait() time.Duration { return maxMillisWait }

func (d *selectDemux) update(fd int, _, new Interest) error {
	if fd < 0 || fd >= fdSetSize {
		return ErrFDOutOfRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if new&InterestRead != 0 {
		d.readers.Set(fd)
	} else {
		d.readers.Clear(fd)
	}
	if new&InterestWrite != 0 {
		d.writers.Set(fd)
	} else {
		d.writers.Clear(fd)
	}

	if new == 0 {
		delete(d.counts, fd)
		if fd == d.maxFD {
			d.maxFD = -1
			for other := range d.counts {
				d.maxFD = max(d.maxFD, other)
			}
		}
	} else {
		d.counts[fd] = new
		d.maxFD = max(d.maxFD, fd)
	}
	return nil
}

func (d *selectDemux) wait(timeout time.Duration, buf []readyEvent) ([]readyEvent, error) {
	d.mu.Lock()
	r, w := d.readers, d.writers
	nfd := d.maxFD + 1
	d.mu.Unlock()

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(int64(timeout))
		tv = &t
	}

	n, err := unix.Select(nfd, &r, &w, nil, tv)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return buf, nil
		}
		// EBADF is returned as is, for preening
		return buf, err
	}
	for fd := 0; n > 0 && fd < nfd; fd++ {
		var e Event
		if r.IsSet(fd) {
			e |= EventRead
			n--
		}
		if w.IsSet(fd) {
			e |= EventWrite
			n--
		}
		if e != 0 {
			buf = append(buf, readyEvent{fd: fd, events: e})
		}
	}
	return buf, nil
}

func (d *selectDemux) close() error { return nil }

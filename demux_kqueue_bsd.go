//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueDemux registers one persistent filter per interest direction.
type kqueueDemux struct {
	events [256]unix.Kevent_t
	kq     int
}

func newKqueueDemux() (demultiplexer, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueDemux{kq: kq}, nil
}

func (d *kqueueDemux) backend() Backend { return BackendKqueue }

func (d *kqueueDemux) maxWait() time.Duration { return maxMillisWait }

func (d *kqueueDemux) update(fd int, old, new Interest) error {
	var adds, dels []unix.Kevent_t
	for _, f := range [...]struct {
		interest Interest
		filter   int
	}{
		{InterestRead, unix.EVFILT_READ},
		{InterestWrite, unix.EVFILT_WRITE},
	} {
		had, want := old&f.interest != 0, new&f.interest != 0
		switch {
		case want && !had:
			var k unix.Kevent_t
			unix.SetKevent(&k, fd, f.filter, unix.EV_ADD|unix.EV_ENABLE)
			adds = append(adds, k)
		case had && !want:
			var k unix.Kevent_t
			unix.SetKevent(&k, fd, f.filter, unix.EV_DELETE)
			dels = append(dels, k)
		}
	}

	if len(dels) != 0 {
		// a closed descriptor has already been dropped by the kernel
		if _, err := unix.Kevent(d.kq, dels, nil, nil); err != nil &&
			!errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
			return err
		}
	}
	if len(adds) != 0 {
		if _, err := unix.Kevent(d.kq, adds, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *kqueueDemux) wait(timeout time.Duration, buf []readyEvent) ([]readyEvent, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(d.kq, nil, d.events[:], ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return buf, nil
		}
		return buf, err
	}
	for i := 0; i < n; i++ {
		ev := &d.events[i]
		buf = append(buf, readyEvent{fd: int(ev.Ident), events: keventToEvent(ev)})
	}
	return buf, nil
}

func (d *kqueueDemux) close() error {
	return unix.Close(d.kq)
}

func keventToEvent(ev *unix.Kevent_t) Event {
	if ev.Flags&unix.EV_ERROR != 0 {
		if unix.Errno(ev.Data) == unix.EBADF {
			return EventInvalid
		}
		return EventError
	}
	var e Event
	switch ev.Filter {
	case unix.EVFILT_READ:
		e |= EventRead
	case unix.EVFILT_WRITE:
		e |= EventWrite
	}
	// EV_EOF with a pending socket error is a lost connection; a plain EOF
	// is left for DoRead to observe.
	if ev.Flags&unix.EV_EOF != 0 && ev.Fflags != 0 {
		e |= EventError
	}
	return e
}

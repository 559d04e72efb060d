//go:build linux

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// epollDemux is the level-triggered epoll backend.
type epollDemux struct {
	events [256]unix.EpollEvent
	epfd   int
}

func newEpollDemux() (demultiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollDemux{epfd: epfd}, nil
}

func (d *epollDemux) backend() Backend { return BackendEpoll }

func (d *epollDemux) maxWait() time.Duration { return maxMillisWait }

func (d *epollDemux) update(fd int, old, new Interest) error {
	if new == 0 {
		if old == 0 {
			return nil
		}
		err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		// closing a descriptor removes it from the epoll set implicitly
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
			return nil
		}
		return err
	}

	ev := unix.EpollEvent{Events: interestToEpoll(new), Fd: int32(fd)}
	if old == 0 {
		err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		if errors.Is(err, unix.EEXIST) {
			// registered under a previous owner of the same number
			return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		}
		return err
	}
	err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if errors.Is(err, unix.ENOENT) {
		// the descriptor was closed and its number reused
		return unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	return err
}

func (d *epollDemux) wait(timeout time.Duration, buf []readyEvent) ([]readyEvent, error) {
	n, err := unix.EpollWait(d.epfd, d.events[:], timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return buf, nil
		}
		return buf, err
	}
	for i := 0; i < n; i++ {
		ev := &d.events[i]
		buf = append(buf, readyEvent{fd: int(ev.Fd), events: epollToEvent(ev.Events)})
	}
	return buf, nil
}

func (d *epollDemux) close() error {
	return unix.Close(d.epfd)
}

func interestToEpoll(i Interest) uint32 {
	var v uint32
	if i&InterestRead != 0 {
		v |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		v |= unix.EPOLLOUT
	}
	return v
}

func epollToEvent(v uint32) Event {
	var e Event
	if v&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		e |= EventRead
	}
	if v&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if v&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= EventHangup
	}
	if v&unix.EPOLLERR != 0 {
		e |= EventError
	}
	return e
}

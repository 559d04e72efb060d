//go:build unix

package reactor

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollDemux keeps the interest set in user space and hands it to poll(2)
// on every wait.
type pollDemux struct {
	interest map[int]Interest
	fds      []unix.PollFd
	mu       sync.Mutex
}

func newPollDemux() (demultiplexer, error) {
	return &pollDemux{interest: make(map[int]Interest)}, nil
}

func (d *pollDemux) backend() Backend { return BackendPoll }

func (d *pollDemux) maxWait() time.Duration { return maxMillisWait }

func (d *pollDemux) update(fd int, _, new Interest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if new == 0 {
		delete(d.interest, fd)
	} else {
		d.interest[fd] = new
	}
	return nil
}

func (d *pollDemux) wait(timeout time.Duration, buf []readyEvent) ([]readyEvent, error) {
	d.mu.Lock()
	fds := d.fds[:0]
	for fd, in := range d.interest {
		var events int16
		if in&InterestRead != 0 {
			events |= unix.POLLIN
		}
		if in&InterestWrite != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	d.fds = fds
	d.mu.Unlock()

	n, err := unix.Poll(fds, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return buf, nil
		}
		return buf, err
	}
	for i := 0; n > 0 && i < len(fds); i++ {
		re := fds[i].Revents
		if re == 0 {
			continue
		}
		n--
		buf = append(buf, readyEvent{fd: int(fds[i].Fd), events: pollToEvent(re)})
	}
	return buf, nil
}

func (d *pollDemux) close() error { return nil }

func pollToEvent(re int16) Event {
	var e Event
	if re&unix.POLLNVAL != 0 {
		return EventInvalid
	}
	if re&(unix.POLLIN|unix.POLLPRI) != 0 {
		e |= EventRead
	}
	if re&unix.POLLOUT != 0 {
		e |= EventWrite
	}
	if re&unix.POLLHUP != 0 {
		e |= EventHangup
	}
	if re&unix.POLLERR != 0 {
		e |= EventError
	}
	return e
}

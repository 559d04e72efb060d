//go:build unix

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newLoopbackWaker connects a pair of TCP sockets over 127.0.0.1. The
// accepted side is read, the connecting side is written, with Nagle
// disabled so single-byte wakes are sent immediately.
func newLoopbackWaker() (_ *fdWaker, err error) {
	ln, err := loopbackSocket()
	if err != nil {
		return nil, err
	}
	defer unix.Close(ln)

	if err := unix.Bind(ln, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		return nil, fmt.Errorf("reactor: waker bind: %w", err)
	}
	if err := unix.Listen(ln, 1); err != nil {
		return nil, fmt.Errorf("reactor: waker listen: %w", err)
	}
	sa, err := unix.Getsockname(ln)
	if err != nil {
		return nil, err
	}

	client, err := loopbackSocket()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = unix.Close(client)
		}
	}()
	if err = unix.Connect(client, sa); err != nil {
		return nil, fmt.Errorf("reactor: waker connect: %w", err)
	}

	server, _, err := unix.Accept(ln)
	if err != nil {
		return nil, fmt.Errorf("reactor: waker accept: %w", err)
	}
	unix.CloseOnExec(server)

	for _, fd := range [...]int{server, client} {
		if err = unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(server)
			return nil, err
		}
	}
	if err = unix.SetsockoptInt(client, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		_ = unix.Close(server)
		return nil, err
	}
	return &fdWaker{r: server, w: client}, nil
}

func loopbackSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("reactor: waker socket: %w", err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

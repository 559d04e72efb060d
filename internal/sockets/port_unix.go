//go:build unix

package sockets

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/joeycumines/go-reactor"
	"golang.org/x/sys/unix"
)

// acceptBurst bounds the connections accepted per DoRead, so a flood of
// clients cannot starve other selectables.
const acceptBurst = 64

// Port is a listening TCP socket. Each accepted connection is wrapped in a
// Conn and passed to the accept callback, which must call Conn.Start to
// begin reading.
type Port struct {
	r        Reactor
	logger   *reactor.Logger
	onAccept func(*Conn)
	onClose  func(error)
	addr     netip.AddrPort
	fd       int
}

// Listen binds addr (for example "127.0.0.1:0") and registers the port
// for reading.
func Listen(r Reactor, addr string, logger *reactor.Logger, onAccept func(*Conn)) (*Port, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("sockets: listen address: %w", err)
	}
	if onAccept == nil {
		panic("sockets: nil accept callback")
	}

	fd, err := socket(ap.Addr())
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("sockets: setsockopt: %w", err)
	}
	if err := unix.Bind(fd, toSockaddr(ap)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("sockets: bind %s: %w", ap, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("sockets: listen: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	p := &Port{
		r:        r,
		logger:   logger,
		onAccept: onAccept,
		addr:     fromSockaddr(sa),
		fd:       fd,
	}
	if err := r.AddReader(p); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	logger.Info().
		Str("addr", p.addr.String()).
		Log(`listening`)

	return p, nil
}

// Addr returns the bound address, with the port resolved.
func (p *Port) Addr() netip.AddrPort { return p.addr }

// OnClose sets a function called once the port is torn down.
func (p *Port) OnClose(fn func(error)) { p.onClose = fn }

// Fileno implements reactor.FileDescriptor.
func (p *Port) Fileno() int { return p.fd }

// DoRead accepts pending connections.
func (p *Port) DoRead() error {
	for range acceptBurst {
		nfd, sa, err := unix.Accept(p.fd)
		switch {
		case err == nil:
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE), errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.ENOMEM):
			// transient, so keep listening
			p.logger.Err().
				Str("addr", p.addr.String()).
				Err(err).
				Log(`accept failed`)
			return nil
		default:
			return fmt.Errorf("%w: accept: %w", reactor.ErrConnectionLost, err)
		}

		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			continue
		}
		p.onAccept(newConn(p.r, nfd, fromSockaddr(sa)))
	}
	return nil
}

// ConnectionLost implements reactor.FileDescriptor, closing the socket.
func (p *Port) ConnectionLost(reason error) {
	if p.fd < 0 {
		return
	}
	_ = unix.Close(p.fd)
	p.fd = -1
	p.logger.Info().
		Str("addr", p.addr.String()).
		Err(reason).
		Log(`stopped listening`)
	if p.onClose != nil {
		p.onClose(reason)
	}
}

// Close stops listening. It must be called on the I/O goroutine.
func (p *Port) Close() {
	p.r.RemoveReader(p)
	p.ConnectionLost(reactor.ErrConnectionDone)
}

func socket(addr netip.Addr) (int, error) {
	family := unix.AF_INET
	if addr.Is6() && !addr.Is4In6() {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("sockets: socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("sockets: nonblock: %w", err)
	}
	return fd, nil
}

func toSockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

//go:build unix

package sockets

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/joeycumines/go-reactor"
	"golang.org/x/sys/unix"
)

// Conn is a connected TCP socket with an unbounded write buffer. All
// methods must be called on the I/O goroutine.
type Conn struct {
	r Reactor

	// OnData receives each chunk read. The slice is reused after return.
	OnData func(c *Conn, data []byte)
	// OnReadClosed, if set, is called when the peer shuts down its write
	// side. The Conn remains writable. If unset, EOF closes the Conn.
	OnReadClosed func(c *Conn)
	// OnClose is called once, after the socket is closed.
	OnClose func(c *Conn, reason error)

	out        []byte
	peer       netip.AddrPort
	buf        [4096]byte
	fd         int
	closing    bool
	writeShut  bool
	registered bool
}

var _ reactor.HalfCloseableDescriptor = (*Conn)(nil)

func newConn(r Reactor, fd int, peer netip.AddrPort) *Conn {
	return &Conn{r: r, fd: fd, peer: peer}
}

// Peer returns the remote address.
func (c *Conn) Peer() netip.AddrPort { return c.peer }

// Start registers the Conn for reading.
func (c *Conn) Start() error {
	return c.r.AddReader(c)
}

// Fileno implements reactor.FileDescriptor.
func (c *Conn) Fileno() int { return c.fd }

// DoRead reads one chunk. EOF is reported as reactor.ErrConnectionDone.
func (c *Conn) DoRead() error {
	n, err := unix.Read(c.fd, c.buf[:])
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return nil
	case err != nil:
		return fmt.Errorf("%w: read: %w", reactor.ErrConnectionLost, err)
	case n == 0:
		return reactor.ErrConnectionDone
	}
	if c.OnData != nil {
		c.OnData(c, c.buf[:n])
	}
	return nil
}

// Write buffers data, to be sent once the socket is writable.
func (c *Conn) Write(data []byte) {
	if c.fd < 0 || c.closing || c.writeShut || len(data) == 0 {
		return
	}
	c.out = append(c.out, data...)
	c.startWriting()
}

// DoWrite flushes as much of the buffer as the socket accepts. Once the
// buffer is empty, a pending LoseConnection completes.
func (c *Conn) DoWrite() error {
	for len(c.out) != 0 {
		n, err := unix.Write(c.fd, c.out)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return nil
		case err != nil:
			return fmt.Errorf("%w: write: %w", reactor.ErrConnectionLost, err)
		}
		c.out = c.out[n:]
	}
	c.out = nil
	c.registered = false
	c.r.RemoveWriter(c)
	if c.closing {
		return reactor.ErrConnectionDone
	}
	if c.writeShut {
		if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil {
			return fmt.Errorf("%w: shutdown: %w", reactor.ErrConnectionLost, err)
		}
	}
	return nil
}

// LoseConnection closes the Conn once buffered data has been written.
func (c *Conn) LoseConnection() {
	if c.fd < 0 || c.closing {
		return
	}
	c.closing = true
	c.startWriting()
}

// CloseWrite shuts down the write side once buffered data has been
// written, leaving the read side open.
func (c *Conn) CloseWrite() {
	if c.fd < 0 || c.writeShut {
		return
	}
	c.writeShut = true
	c.startWriting()
}

func (c *Conn) startWriting() {
	if c.registered {
		return
	}
	if err := c.r.AddWriter(c); err == nil {
		c.registered = true
	}
}

// ReadConnectionLost implements reactor.HalfCloseableDescriptor.
func (c *Conn) ReadConnectionLost(reason error) {
	if c.OnReadClosed != nil {
		c.OnReadClosed(c)
		return
	}
	c.r.RemoveWriter(c)
	c.ConnectionLost(reason)
}

// ConnectionLost implements reactor.FileDescriptor, closing the socket.
func (c *Conn) ConnectionLost(reason error) {
	if c.fd < 0 {
		return
	}
	_ = unix.Close(c.fd)
	c.fd = -1
	c.out = nil
	if c.OnClose != nil {
		c.OnClose(c, reason)
	}
}

//go:build unix

package main

import (
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/internal/sockets"
)

// startEcho listens on addr, writing back whatever each client sends.
// Must be called on the I/O goroutine.
func startEcho(r *reactor.Reactor, addr string, logger *reactor.Logger) error {
	port, err := sockets.Listen(r, addr, logger, func(c *sockets.Conn) {
		c.OnData = func(c *sockets.Conn, data []byte) {
			c.Write(data)
		}
		c.OnReadClosed = func(c *sockets.Conn) {
			c.LoseConnection()
		}
		c.OnClose = func(c *sockets.Conn, reason error) {
			if b := logger.Debug(); b.Enabled() {
				b.Str("peer", c.Peer().String()).
					Err(reason).
					Log(`echo client gone`)
			}
		}
		if err := c.Start(); err != nil {
			logger.Warning().Err(err).Log(`echo client rejected`)
			c.ConnectionLost(err)
		}
	})
	if err != nil {
		return err
	}
	_, err = r.AddSystemEventTrigger(reactor.PhaseBefore, reactor.EventShutdown, port.Close)
	return err
}

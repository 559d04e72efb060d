// Package sockets provides minimal non-blocking TCP selectables, a
// listening Port and a buffered Conn, for exercising a reactor. Unix only.
package sockets

import (
	"github.com/joeycumines/go-reactor"
)

// Reactor is the subset of *reactor.Reactor used by this package.
type Reactor interface {
	AddReader(reactor.ReadDescriptor) error
	AddWriter(reactor.WriteDescriptor) error
	RemoveReader(reactor.ReadDescriptor)
	RemoveWriter(reactor.WriteDescriptor)
}

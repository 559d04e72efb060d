package reactor

// FileDescriptor is the base of every selectable.
type FileDescriptor interface {
	// Fileno returns the OS descriptor. It must be stable while registered,
	// and -1 once the descriptor has been closed.
	Fileno() int

	// ConnectionLost is called exactly once, when the reactor tears the
	// selectable down. The reason matches ErrConnectionDone or
	// ErrConnectionLost under errors.Is, or is the error returned by
	// DoRead/DoWrite.
	ConnectionLost(reason error)
}

// ReadDescriptor is a selectable that can be watched for readability.
type ReadDescriptor interface {
	FileDescriptor

	// DoRead performs one unit of reading. A non-nil result is a
	// disconnection reason.
	DoRead() error
}

// WriteDescriptor is a selectable that can be watched for writability.
type WriteDescriptor interface {
	FileDescriptor

	// DoWrite performs one unit of writing. A non-nil result is a
	// disconnection reason.
	DoWrite() error
}

// HalfCloseableDescriptor is a ReadDescriptor that can continue writing
// after its read side reaches EOF. When DoRead returns ErrConnectionDone,
// the reactor stops reading and calls ReadConnectionLost instead of
// ConnectionLost.
type HalfCloseableDescriptor interface {
	ReadDescriptor

	ReadConnectionLost(reason error)
}

// Interest is a set of readiness conditions a descriptor is registered for.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Event is a set of readiness conditions reported by a demultiplexer.
type Event uint8

const (
	// EventRead indicates the descriptor is readable.
	EventRead Event = 1 << iota
	// EventWrite indicates the descriptor is writable.
	EventWrite
	// EventHangup indicates the peer closed the connection.
	EventHangup
	// EventError indicates an error condition on the descriptor.
	EventError
	// EventInvalid indicates the descriptor is not open.
	EventInvalid
)

// readyEvent is one descriptor's readiness, as reported by a backend.
type readyEvent struct {
	fd     int
	events Event
}

package reactor

// waker interrupts a blocked wait from any goroutine. It is registered with
// the reactor as a reader, and its DoRead discards whatever woke it.
type waker interface {
	ReadDescriptor

	// wakeUp never blocks. Redundant wake-ups may be coalesced.
	wakeUp()

	close() error
}

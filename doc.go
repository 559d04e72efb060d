// Package reactor implements a single-threaded, readiness-based event loop.
//
// A [Reactor] multiplexes descriptor readiness through one of several OS
// facilities (epoll, kqueue, poll, select, or IOCP), fires timed callbacks
// in a deterministic order, and coordinates startup and shutdown through
// three-phase system events.
//
// # Selectables
//
// Anything with a descriptor can be registered. Implement [ReadDescriptor]
// and/or [WriteDescriptor]; DoRead and DoWrite return a non-nil reason to
// request disconnection, in which case the reactor removes the selectable
// from both sets and calls ConnectionLost exactly once. Selectables must be
// comparable (typically pointer types).
//
// # Threads
//
// Exactly one goroutine, the I/O goroutine, runs the loop. It is recorded
// when [Reactor.Run] starts and pinned to its OS thread. Other goroutines
// hand work over with [Reactor.CallFromThread], and blocking work may be
// pushed out to the pool with [Reactor.CallInThread].
//
// # Lifecycle
//
//	r, err := reactor.New(reactor.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	r.CallLater(time.Second, func() { _ = r.Stop() })
//	return r.Run(ctx)
//
// A reactor that has completed a normal shutdown cannot be run again.
package reactor

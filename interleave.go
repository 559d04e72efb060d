package reactor

import (
	"context"
	"time"
)

// Interleave runs the reactor inside a foreign event loop, blocking until
// the reactor stops or crashes.
//
// The calling goroutine performs each OS wait. When it returns, one step
// (dispatching the ready events, then running thread calls and due delayed
// calls) is handed to schedule, and the next wait begins once that step has
// run. schedule must arrange for its argument to run on the foreign loop;
// for the duration of a step, the goroutine running it is the I/O
// goroutine. Calling Interleave from the foreign loop itself therefore
// deadlocks.
//
// Signal handlers are not installed. Cancelling ctx is equivalent to
// calling Stop.
func (r *Reactor) Interleave(ctx context.Context, schedule func(func())) error {
	if schedule == nil {
		panic("reactor: nil schedule function")
	}
	if r.IsIOThread() {
		return ErrReentrantRun
	}
	if err := r.begin(); err != nil {
		return err
	}
	defer r.watchContext(ctx)()

	r.logger.Info().
		Str("reactor", r.id).
		Stringer("backend", r.demux.backend()).
		Log(`reactor interleaving`)

	step := func(fn func()) {
		done := make(chan struct{})
		schedule(func() {
			defer close(done)
			r.ioGoroutine.Store(goroutineID())
			defer r.ioGoroutine.Store(0)
			fn()
		})
		<-done
	}

	step(func() {
		r.events.fire(EventStartup)
		r.runUntilCurrent()
	})

	var buf []readyEvent
	for !r.exitLoop.Load() {
		start := time.Now()
		events, err := r.demux.wait(r.timeout(), buf[:0])
		buf = events
		waited := time.Since(start)

		step(func() {
			begin := time.Now()
			if err != nil {
				r.handleWaitError(err)
			}
			r.dispatchAll(events)
			if r.metrics != nil {
				r.metrics.recordIteration(waited, time.Since(begin), len(events))
			}
			r.runUntilCurrent()
		})
	}

	r.finish()

	if r.state.load() == StateStopped {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

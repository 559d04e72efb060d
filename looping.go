package reactor

import (
	"fmt"
	"sync"
	"time"
)

// Scheduler is the subset of Reactor needed to drive timed work. TimerQueue
// and Simulation implement it too.
type Scheduler interface {
	CallLater(delay time.Duration, fn func()) *DelayedCall
	Now() time.Time
}

var (
	_ Scheduler = (*Reactor)(nil)
	_ Scheduler = (*TimerQueue)(nil)
	_ Scheduler = (*Simulation)(nil)
)

// LoopingCall calls a function repeatedly, at fixed multiples of the
// interval after Start. Intervals missed because a call overran (or the
// loop was busy) are skipped, not made up.
type LoopingCall struct {
	sched    Scheduler
	fn       func() error
	start    time.Time
	call     *DelayedCall
	done     chan error
	interval time.Duration
	mu       sync.Mutex
	running  bool
}

// NewLoopingCall returns a stopped LoopingCall that will run fn via sched.
func NewLoopingCall(sched Scheduler, fn func() error) *LoopingCall {
	if fn == nil {
		panic("reactor: nil looping call function")
	}
	return &LoopingCall{sched: sched, fn: fn}
}

// Start begins calling fn every interval, immediately if now is true. The
// returned channel receives nil after Stop, or the first error (including
// a PanicError) returned by fn, which also stops the call.
func (lc *LoopingCall) Start(interval time.Duration, now bool) (<-chan error, error) {
	if interval < 0 {
		return nil, fmt.Errorf("reactor: negative looping call interval: %v", interval)
	}

	lc.mu.Lock()
	if lc.running {
		lc.mu.Unlock()
		return nil, ErrLoopingCallRunning
	}
	lc.running = true
	lc.interval = interval
	lc.start = lc.sched.Now()
	done := make(chan error, 1)
	lc.done = done
	if !now {
		lc.scheduleFrom(lc.start)
	}
	lc.mu.Unlock()

	if now {
		lc.tick()
	}
	return done, nil
}

// Stop cancels the pending call and delivers nil to the channel returned by
// Start.
func (lc *LoopingCall) Stop() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.running {
		return ErrLoopingCallStopped
	}
	if lc.call != nil {
		_ = lc.call.Cancel()
		lc.call = nil
	}
	lc.finish(nil)
	return nil
}

// Reset restarts the interval from the current time, without calling fn.
func (lc *LoopingCall) Reset() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.running {
		return ErrLoopingCallStopped
	}
	if lc.call != nil {
		_ = lc.call.Cancel()
	}
	lc.start = lc.sched.Now()
	lc.scheduleFrom(lc.start)
	return nil
}

// Running reports whether the call is started.
func (lc *LoopingCall) Running() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.running
}

// Interval returns the interval passed to the last Start.
func (lc *LoopingCall) Interval() time.Duration {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.interval
}

func (lc *LoopingCall) tick() {
	lc.mu.Lock()
	lc.call = nil
	lc.mu.Unlock()

	var err error
	if p := invokeCall(func() { err = lc.fn() }); p != nil {
		err = *p
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.running {
		// stopped by fn
		return
	}
	if err != nil {
		lc.finish(err)
		return
	}
	lc.scheduleFrom(lc.sched.Now())
}

// scheduleFrom must be called with mu held.
func (lc *LoopingCall) scheduleFrom(when time.Time) {
	lc.call = lc.sched.CallLater(lc.untilNext(when), lc.tick)
}

// untilNext returns the delay from when to the next multiple of the
// interval after start.
func (lc *LoopingCall) untilNext(when time.Time) time.Duration {
	if lc.interval == 0 {
		return 0
	}
	elapsed := when.Sub(lc.start)
	if elapsed < 0 {
		return -elapsed
	}
	return lc.interval - elapsed%lc.interval
}

// finish must be called with mu held.
func (lc *LoopingCall) finish(err error) {
	lc.running = false
	lc.done <- err
	close(lc.done)
}

package reactor

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"
)

// DelayedCall is a handle to a scheduled function. It is created by
// TimerQueue.ScheduleAfter (and Reactor.CallLater), and remains owned by its
// queue while pending.
//
// Once a call has fired or been cancelled, every mutating method fails with
// ErrAlreadyCalled or ErrAlreadyCancelled.
type DelayedCall struct {
	queue     *TimerQueue
	fn        func()
	when      time.Time
	creator   string
	seq       uint64
	index     int // heap position, -1 when not queued
	cancelled bool
	called    bool
}

// Cancel removes the call from its queue.
func (c *DelayedCall) Cancel() error {
	return c.queue.cancel(c)
}

// Reset reschedules the call to fire d after the current time.
func (c *DelayedCall) Reset(d time.Duration) error {
	return c.queue.reset(c, d)
}

// Delay pushes the fire time back by d. A negative d moves it earlier.
func (c *DelayedCall) Delay(d time.Duration) error {
	return c.queue.delay(c, d)
}

// Time returns the absolute time at which the call is scheduled to fire.
func (c *DelayedCall) Time() time.Time {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	return c.when
}

// Active reports whether the call is still pending.
func (c *DelayedCall) Active() bool {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	return !c.cancelled && !c.called
}

// Cancelled reports whether the call was cancelled.
func (c *DelayedCall) Cancelled() bool {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	return c.cancelled
}

// Called reports whether the call has fired.
func (c *DelayedCall) Called() bool {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()
	return c.called
}

func (c *DelayedCall) String() string {
	c.queue.mu.Lock()
	defer c.queue.mu.Unlock()

	var b strings.Builder
	b.WriteString("<DelayedCall ")
	switch {
	case c.called:
		b.WriteString("called")
	case c.cancelled:
		b.WriteString("cancelled")
	default:
		fmt.Fprintf(&b, "[%s]", c.when.Sub(c.queue.clock.Now()).Round(time.Microsecond))
	}
	if c.fn != nil {
		b.WriteByte(' ')
		b.WriteString(funcName(c.fn))
	}
	if c.creator != "" {
		b.WriteString("\n\ncreated at:\n")
		b.WriteString(c.creator)
	}
	b.WriteByte('>')
	return b.String()
}

func funcName(fn func()) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "func"
}

// callerStack renders the stack above the scheduling call, for debug mode.
func callerStack(skip int) string {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

package reactor

import (
	"container/heap"
	"runtime/debug"
	"slices"
	"sync"
	"time"
)

// TimerQueue is an ordered set of pending delayed calls.
//
// Calls are ordered by fire time, then by scheduling order, so calls due at
// the same instant fire first-in first-out. The queue is a binary heap that
// tracks each call's position, making cancellation O(log n).
//
// All methods are safe for concurrent use, though scheduled functions only
// ever run on the goroutine calling RunDue.
type TimerQueue struct {
	clock    Clock
	onPanic  func(*DelayedCall, PanicError)
	onSooner func()
	calls    callHeap
	held     []*DelayedCall // due, but newer than the running pass
	seq      uint64
	mu       sync.Mutex
	debug    bool
}

// NewTimerQueue returns an empty queue reading time from clock. A nil clock
// uses MonotonicClock.
func NewTimerQueue(clock Clock) *TimerQueue {
	if clock == nil {
		clock = MonotonicClock{}
	}
	return &TimerQueue{clock: clock}
}

// SetPanicHandler installs a function receiving panics recovered from
// scheduled functions. Without one, RunDue still runs every due call, then
// re-panics with the first recovered PanicError.
func (q *TimerQueue) SetPanicHandler(fn func(*DelayedCall, PanicError)) {
	q.mu.Lock()
	q.onPanic = fn
	q.mu.Unlock()
}

// Now returns the queue's clock reading.
func (q *TimerQueue) Now() time.Time {
	return q.clock.Now()
}

// ScheduleAfter schedules fn to run once delay has elapsed. A negative
// delay means as soon as possible. It panics if fn is nil.
func (q *TimerQueue) ScheduleAfter(delay time.Duration, fn func()) *DelayedCall {
	if fn == nil {
		panic("reactor: nil function scheduled")
	}
	if delay < 0 {
		delay = 0
	}

	c := &DelayedCall{
		queue: q,
		fn:    fn,
		index: -1,
	}

	q.mu.Lock()
	if q.debug {
		c.creator = callerStack(2)
	}
	c.when = q.clock.Now().Add(delay)
	c.seq = q.nextSeq()
	heap.Push(&q.calls, c)
	sooner := c.index == 0
	notify := q.onSooner
	q.mu.Unlock()

	if sooner && notify != nil {
		notify()
	}
	return c
}

// CallLater is an alias of ScheduleAfter, allowing a TimerQueue to be used
// wherever a Scheduler is accepted.
func (q *TimerQueue) CallLater(delay time.Duration, fn func()) *DelayedCall {
	return q.ScheduleAfter(delay, fn)
}

// NextDeadline returns the time until the earliest pending call. The
// boolean is false if the queue is empty. The duration is never negative.
func (q *TimerQueue) NextDeadline() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.calls) == 0 {
		return 0, false
	}
	d := q.calls[0].when.Sub(q.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Len returns the number of pending calls.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.calls)
	for _, c := range q.held {
		if c.isHeld() {
			n++
		}
	}
	return n
}

// Snapshot returns the pending calls in firing order.
func (q *TimerQueue) Snapshot() []*DelayedCall {
	q.mu.Lock()
	out := slices.Clone([]*DelayedCall(q.calls))
	for _, c := range q.held {
		if c.isHeld() {
			out = append(out, c)
		}
	}
	q.mu.Unlock()
	slices.SortFunc(out, compareCalls)
	return out
}

// RunDue runs, in order, every pending call whose fire time is at or before
// now, and returns how many ran. Calls scheduled or rescheduled while the
// pass is in progress are left for a later pass, without holding back the
// calls that were already due.
func (q *TimerQueue) RunDue(now time.Time) int {
	q.mu.Lock()
	limit := q.seq
	q.mu.Unlock()
	defer q.restoreHeld()

	var (
		count    int
		deferred *PanicError
	)
	for {
		q.mu.Lock()
		if len(q.calls) == 0 {
			q.mu.Unlock()
			break
		}
		c := q.calls[0]
		if c.when.After(now) {
			q.mu.Unlock()
			break
		}
		heap.Pop(&q.calls)
		if c.seq > limit {
			// a call rescheduled while held is popped again
			if !slices.Contains(q.held, c) {
				q.held = append(q.held, c)
			}
			q.mu.Unlock()
			continue
		}
		c.called = true
		fn := c.fn
		c.fn = nil
		onPanic := q.onPanic
		q.mu.Unlock()

		count++
		if p := invokeCall(fn); p != nil {
			if onPanic != nil {
				onPanic(c, *p)
			} else if deferred == nil {
				deferred = p
			}
		}
	}

	if deferred != nil {
		panic(*deferred)
	}
	return count
}

func (q *TimerQueue) restoreHeld() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.held {
		if c.isHeld() {
			heap.Push(&q.calls, c)
		}
	}
	q.held = nil
}

func invokeCall(fn func()) (p *PanicError) {
	defer func() {
		if v := recover(); v != nil {
			p = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

func (q *TimerQueue) cancel(c *DelayedCall) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := c.checkPending(); err != nil {
		return err
	}
	c.cancelled = true
	c.fn = nil
	if c.index >= 0 {
		heap.Remove(&q.calls, c.index)
	}
	return nil
}

func (q *TimerQueue) reset(c *DelayedCall, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	return q.reschedule(c, func(time.Time) time.Time {
		return q.clock.Now().Add(d)
	})
}

func (q *TimerQueue) delay(c *DelayedCall, d time.Duration) error {
	return q.reschedule(c, func(when time.Time) time.Time {
		return when.Add(d)
	})
}

func (q *TimerQueue) reschedule(c *DelayedCall, next func(time.Time) time.Time) error {
	q.mu.Lock()
	if err := c.checkPending(); err != nil {
		q.mu.Unlock()
		return err
	}
	c.when = next(c.when)
	c.seq = q.nextSeq()
	if c.index >= 0 {
		heap.Fix(&q.calls, c.index)
	} else {
		heap.Push(&q.calls, c)
	}
	sooner := c.index == 0
	notify := q.onSooner
	q.mu.Unlock()

	if sooner && notify != nil {
		notify()
	}
	return nil
}

// nextSeq must be called with mu held.
func (q *TimerQueue) nextSeq() uint64 {
	q.seq++
	return q.seq
}

// isHeld reports whether c is pending but out of the heap. It must be
// called with the queue's mu held.
func (c *DelayedCall) isHeld() bool {
	return c.index < 0 && !c.cancelled && !c.called
}

func (c *DelayedCall) checkPending() error {
	switch {
	case c.cancelled:
		return ErrAlreadyCancelled
	case c.called:
		return ErrAlreadyCalled
	}
	return nil
}

func compareCalls(a, b *DelayedCall) int {
	if c := a.when.Compare(b.when); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

// callHeap implements heap.Interface, maintaining each call's index.
type callHeap []*DelayedCall

func (h callHeap) Len() int           { return len(h) }
func (h callHeap) Less(i, j int) bool { return compareCalls(h[i], h[j]) < 0 }

func (h callHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *callHeap) Push(x any) {
	c := x.(*DelayedCall)
	c.index = len(*h)
	*h = append(*h, c)
}

func (h *callHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	c.index = -1
	*h = old[:n-1]
	return c
}

package reactor

import (
	"sync"
	"time"
)

// Clock is the time source used to compute delayed call fire times.
type Clock interface {
	Now() time.Time
}

// MonotonicClock reads the system clock. Returned values carry Go's
// monotonic reading, so comparisons are immune to wall clock steps.
type MonotonicClock struct{}

// Now returns time.Now().
func (MonotonicClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock that only moves when told to. Safe for
// concurrent use.
type ManualClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewManualClock returns a ManualClock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current simulated time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Simulation pairs a ManualClock with a TimerQueue, for driving timed logic
// deterministically without a running reactor.
type Simulation struct {
	*TimerQueue
	Clock *ManualClock
}

// NewSimulation returns a Simulation whose clock starts at start.
func NewSimulation(start time.Time) *Simulation {
	clock := NewManualClock(start)
	return &Simulation{
		TimerQueue: NewTimerQueue(clock),
		Clock:      clock,
	}
}

// Advance moves the clock forward by d, then runs every call that has
// become due, including calls scheduled by those calls that are themselves
// already due. It returns the number of calls run.
func (s *Simulation) Advance(d time.Duration) int {
	s.Clock.Advance(d)
	var total int
	for {
		n := s.RunDue(s.Clock.Now())
		if n == 0 {
			return total
		}
		total += n
	}
}

// Pump calls Advance once per step.
func (s *Simulation) Pump(steps ...time.Duration) {
	for _, d := range steps {
		s.Advance(d)
	}
}

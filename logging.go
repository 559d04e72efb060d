package reactor

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Logger is the structured logger accepted by WithLogger. A nil Logger
// discards everything.
type Logger = logiface.Logger[logiface.Event]

// logCategory groups repeated log lines, e.g. a descriptor whose handler
// fails on every iteration.
type logCategory struct {
	kind string
	fd   int
}

// descriptorLogRates bounds repeated per-descriptor error logs.
var descriptorLogRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 30,
}

func newLogLimiter() *catrate.Limiter {
	return catrate.NewLimiter(descriptorLogRates)
}

// limited returns b unless its category has exceeded descriptorLogRates,
// in which case b is released and nil (a disabled builder) is returned.
func (r *Reactor) limited(b *logiface.Builder[logiface.Event], kind string, fd int) *logiface.Builder[logiface.Event] {
	if !b.Enabled() {
		return b
	}
	if _, ok := r.limiter.Allow(logCategory{kind: kind, fd: fd}); !ok {
		b.Release()
		return nil
	}
	return b
}

func (r *Reactor) logPanic(where string, p PanicError) {
	if r.metrics != nil {
		r.metrics.panics.Add(1)
	}
	if b := r.logger.Err(); b.Enabled() {
		b.Str("reactor", r.id).
			Str("where", where).
			Any("panic", p.Value).
			Str("stack", string(p.Stack)).
			Log(`callback panicked`)
	}
}

func (r *Reactor) logDelayedCallPanic(c *DelayedCall, p PanicError) {
	if r.metrics != nil {
		r.metrics.panics.Add(1)
	}
	if b := r.logger.Err(); b.Enabled() {
		b.Str("reactor", r.id).
			Str("where", "delayed call").
			Stringer("call", c).
			Any("panic", p.Value).
			Str("stack", string(p.Stack)).
			Log(`callback panicked`)
	}
}

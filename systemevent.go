package reactor

import (
	"errors"
	"fmt"
	"sync"
)

// Phase is one of the three stages of a system event.
type Phase int

const (
	// PhaseBefore triggers run first. They may complete asynchronously, and
	// PhaseDuring waits for all of them.
	PhaseBefore Phase = iota
	// PhaseDuring triggers do the event's actual work.
	PhaseDuring
	// PhaseAfter triggers run last.
	PhaseAfter
)

func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseDuring:
		return "during"
	case PhaseAfter:
		return "after"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Standard system event names.
const (
	EventStartup  = "startup"
	EventShutdown = "shutdown"
)

// TriggerID identifies a registered trigger, for RemoveSystemEventTrigger.
type TriggerID struct {
	event string
	phase Phase
	id    uint64
}

type trigger struct {
	fn func() <-chan error
	id uint64
}

// eventTriggers is the state of one event type. Triggers are one-shot: each
// is removed from its list when it runs.
type eventTriggers struct {
	phases [3][]trigger
	// finishedBefore holds before-phase triggers that ran during the current
	// firing, which may still be "removed" without error
	finishedBefore map[uint64]struct{}
	firing         bool
}

// coreHooks are reactor behaviors attached to an event, which run whenever
// it fires rather than once.
type coreHooks struct {
	// during runs ahead of the during-phase triggers
	during func()
	// done runs after the after-phase triggers
	done func()
}

// systemEvents is the reactor's trigger table. Firing happens on the I/O
// goroutine; registration is safe from anywhere.
type systemEvents struct {
	r      *Reactor
	events map[string]*eventTriggers
	hooks  map[string]coreHooks
	seq    uint64
	mu     sync.Mutex
}

func newSystemEvents(r *Reactor) *systemEvents {
	return &systemEvents{
		r:      r,
		events: make(map[string]*eventTriggers),
		hooks:  make(map[string]coreHooks),
	}
}

func (x *systemEvents) get(event string) *eventTriggers {
	e := x.events[event]
	if e == nil {
		e = &eventTriggers{}
		x.events[event] = e
	}
	return e
}

func (x *systemEvents) add(phase Phase, event string, fn func() <-chan error) (TriggerID, error) {
	if phase < PhaseBefore || phase > PhaseAfter {
		return TriggerID{}, fmt.Errorf("%w: %d", ErrInvalidPhase, int(phase))
	}
	if fn == nil {
		panic("reactor: nil system event trigger")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.seq++
	e := x.get(event)
	e.phases[phase] = append(e.phases[phase], trigger{fn: fn, id: x.seq})
	return TriggerID{event: event, phase: phase, id: x.seq}, nil
}

func (x *systemEvents) remove(id TriggerID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	e := x.events[id.event]
	if e == nil || id.phase < PhaseBefore || id.phase > PhaseAfter {
		return ErrUnknownTrigger
	}
	list := e.phases[id.phase]
	for i, t := range list {
		if t.id == id.id {
			e.phases[id.phase] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	if id.phase == PhaseBefore && e.firing {
		if _, ok := e.finishedBefore[id.id]; ok {
			delete(e.finishedBefore, id.id)
			return nil
		}
	}
	return ErrUnknownTrigger
}

// pop removes the next trigger of the phase, if any.
func (x *systemEvents) pop(e *eventTriggers, phase Phase) (trigger, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	list := e.phases[phase]
	if len(list) == 0 {
		return trigger{}, false
	}
	t := list[0]
	list[0] = trigger{}
	e.phases[phase] = list[1:]
	if phase == PhaseBefore {
		e.finishedBefore[t.id] = struct{}{}
	}
	return t, true
}

// fire runs the event's before phase, then, once every asynchronous before
// result has been delivered, the during and after phases. It must be called
// on the I/O goroutine. Firing an event that is already firing is a no-op.
func (x *systemEvents) fire(event string) {
	x.mu.Lock()
	e := x.get(event)
	if e.firing {
		x.mu.Unlock()
		x.r.logger.Debug().
			Str("event", event).
			Log(`system event already firing`)
		return
	}
	e.firing = true
	e.finishedBefore = make(map[uint64]struct{})
	x.mu.Unlock()

	var pending []<-chan error
	for {
		t, ok := x.pop(e, PhaseBefore)
		if !ok {
			break
		}
		if ch := x.invoke(event, PhaseBefore, t); ch != nil {
			pending = append(pending, ch)
		}
	}

	if len(pending) == 0 {
		x.continueFiring(event, e)
		return
	}
	go func() {
		for _, ch := range pending {
			if err := <-ch; err != nil {
				x.logFailure(event, PhaseBefore, err)
			}
		}
		x.r.CallFromThread(func() { x.continueFiring(event, e) })
	}()
}

func (x *systemEvents) continueFiring(event string, e *eventTriggers) {
	x.mu.Lock()
	e.finishedBefore = nil
	hooks := x.hooks[event]
	x.mu.Unlock()

	if hooks.during != nil {
		hooks.during()
	}
	for _, phase := range [...]Phase{PhaseDuring, PhaseAfter} {
		for {
			t, ok := x.pop(e, phase)
			if !ok {
				break
			}
			// results of during and after triggers are not waited for
			if ch := x.invoke(event, phase, t); ch != nil {
				go x.drainResult(event, phase, ch)
			}
		}
	}

	x.mu.Lock()
	e.firing = false
	x.mu.Unlock()

	if hooks.done != nil {
		hooks.done()
	}
}

// invoke runs one trigger. Panics are logged, and do not prevent later
// triggers from running.
func (x *systemEvents) invoke(event string, phase Phase, t trigger) (ch <-chan error) {
	if p := invokeCall(func() { ch = t.fn() }); p != nil {
		x.r.logPanic(fmt.Sprintf("%s %s trigger", phase, event), *p)
		return nil
	}
	return ch
}

func (x *systemEvents) drainResult(event string, phase Phase, ch <-chan error) {
	if err := <-ch; err != nil {
		x.logFailure(event, phase, err)
	}
}

func (x *systemEvents) logFailure(event string, phase Phase, err error) {
	var p PanicError
	if errors.As(err, &p) {
		x.r.logPanic(fmt.Sprintf("%s %s trigger", phase, event), p)
		return
	}
	x.r.logger.Err().
		Str("event", event).
		Stringer("phase", phase).
		Err(err).
		Log(`system event trigger failed`)
}

func (x *systemEvents) isFiring(event string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	e := x.events[event]
	return e != nil && e.firing
}

// AddSystemEventTrigger registers fn to run once, the next time eventType
// fires, in the given phase.
func (r *Reactor) AddSystemEventTrigger(phase Phase, eventType string, fn func()) (TriggerID, error) {
	if fn == nil {
		panic("reactor: nil system event trigger")
	}
	return r.events.add(phase, eventType, func() <-chan error {
		fn()
		return nil
	})
}

// AddAsyncSystemEventTrigger is like AddSystemEventTrigger, but fn may
// return a channel delivering its eventual result. In the before phase, the
// during phase does not start until every such channel has delivered a
// value or been closed. A nil channel means fn completed synchronously.
// Non-nil results are logged.
func (r *Reactor) AddAsyncSystemEventTrigger(phase Phase, eventType string, fn func() <-chan error) (TriggerID, error) {
	return r.events.add(phase, eventType, fn)
}

// RemoveSystemEventTrigger unregisters a trigger that has not yet run. A
// trigger removed while its event is firing does not run.
func (r *Reactor) RemoveSystemEventTrigger(id TriggerID) error {
	return r.events.remove(id)
}

// FireSystemEvent fires eventType. From any goroutine other than the I/O
// goroutine, the firing is handed over with CallFromThread.
func (r *Reactor) FireSystemEvent(eventType string) {
	if r.IsIOThread() || !r.State().active() {
		r.events.fire(eventType)
		return
	}
	r.CallFromThread(func() { r.events.fire(eventType) })
}

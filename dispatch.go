package reactor

import (
	"errors"
	"fmt"
	"time"
)

// doIteration performs one wait of at most timeout, then dispatches
// whatever became ready.
func (r *Reactor) doIteration(timeout time.Duration) {
	start := time.Now()
	events, err := r.demux.wait(timeout, r.evbuf[:0])
	r.evbuf = events
	waited := time.Since(start)

	if err != nil {
		r.handleWaitError(err)
	}
	r.dispatchAll(events)

	if r.metrics != nil {
		r.metrics.recordIteration(waited, time.Since(start)-waited, len(events))
	}
}

func (r *Reactor) handleWaitError(err error) {
	if isBadDescriptor(err) {
		r.preen()
		return
	}
	r.limited(r.logger.Err(), "wait", -1).
		Str("reactor", r.id).
		Stringer("backend", r.demux.backend()).
		Err(err).
		Log(`demultiplexer wait failed`)
}

// preen probes every registered descriptor, in ascending order, and
// disconnects those the OS no longer recognizes.
func (r *Reactor) preen() {
	if r.metrics != nil {
		r.metrics.preens.Add(1)
	}
	for _, fd := range r.reg.descriptors() {
		err := probeFD(fd)
		if err == nil {
			continue
		}
		rd, wr := r.reg.lookup(fd)
		r.logger.Warning().
			Str("reactor", r.id).
			Int("fd", fd).
			Err(err).
			Log(`dropping invalid descriptor`)
		reason := fmt.Errorf("%w: %w", ErrConnectionLost, err)
		if rd != nil {
			r.disconnectSelectable(rd, reason, false)
		}
		if wr != nil && FileDescriptor(wr) != FileDescriptor(rd) {
			r.disconnectSelectable(wr, reason, false)
		}
	}
}

func (r *Reactor) dispatchAll(events []readyEvent) {
	for _, ev := range events {
		r.dispatch(ev)
	}
}

// dispatch delivers one descriptor's readiness. Handlers earlier in the
// same pass may have removed or replaced the selectable, so the registry is
// consulted afresh for each event, and again between read and write.
func (r *Reactor) dispatch(ev readyEvent) {
	rd, wr := r.reg.lookup(ev.fd)
	if rd == nil && wr == nil {
		return
	}

	var (
		why    error
		inRead bool
		s      FileDescriptor
	)

	switch {
	case ev.events&EventInvalid != 0:
		s = firstSelectable(rd, wr)
		why = errDescriptorGone

	case ev.events&(EventHangup|EventError) != 0 && ev.events&EventRead == 0:
		// no input remains, so a reader sees a clean close
		if rd != nil {
			s, inRead, why = rd, true, ErrConnectionDone
		} else {
			s, why = wr, ErrConnectionLost
		}

	default:
		if ev.events&EventRead != 0 && rd != nil {
			s, inRead = rd, true
			if rd.Fileno() == -1 {
				why = errDescriptorGone
			} else {
				why = r.invokeHandler(rd, "DoRead", rd.DoRead)
			}
		}
		if why == nil && ev.events&EventWrite != 0 {
			// the read may have removed or replaced the writer
			if _, wr = r.reg.lookup(ev.fd); wr != nil {
				s, inRead = wr, false
				if wr.Fileno() != ev.fd {
					why = errDescriptorGone
				} else {
					why = r.invokeHandler(wr, "DoWrite", wr.DoWrite)
				}
			}
		}
	}

	if why != nil && s != nil {
		r.disconnectSelectable(s, why, inRead)
	}
}

func firstSelectable(rd ReadDescriptor, wr WriteDescriptor) FileDescriptor {
	if rd != nil {
		return rd
	}
	return wr
}

// invokeHandler calls DoRead or DoWrite. A panic is logged, and becomes a
// disconnection reason matching both ErrConnectionLost and PanicError.
func (r *Reactor) invokeHandler(s FileDescriptor, name string, fn func() error) (why error) {
	if p := invokeCall(func() { why = fn() }); p != nil {
		r.logPanic(name, *p)
		return fmt.Errorf("%w: %w", ErrConnectionLost, *p)
	}
	if why != nil {
		if b := r.logger.Debug(); b.Enabled() {
			b.Str("reactor", r.id).
				Str("handler", name).
				Int("fd", s.Fileno()).
				Err(why).
				Log(`handler returned disconnection reason`)
		}
	}
	return why
}

// disconnectSelectable tears s down after a handler returned why. A
// half-closeable reader reaching EOF only loses its read side.
func (r *Reactor) disconnectSelectable(s FileDescriptor, why error, inRead bool) {
	if rd, ok := s.(ReadDescriptor); ok {
		r.reg.removeReader(rd)
	}
	if inRead && errors.Is(why, ErrConnectionDone) {
		if hc, ok := s.(HalfCloseableDescriptor); ok {
			if p := invokeCall(func() { hc.ReadConnectionLost(why) }); p != nil {
				r.logPanic("ReadConnectionLost", *p)
			}
			return
		}
	}
	if wr, ok := s.(WriteDescriptor); ok {
		r.reg.removeWriter(wr)
	}
	r.connectionLost(s, why)
}

func (r *Reactor) connectionLost(s FileDescriptor, why error) {
	if r.metrics != nil {
		r.metrics.disconnects.Add(1)
	}
	if p := invokeCall(func() { s.ConnectionLost(why) }); p != nil {
		r.logPanic("ConnectionLost", *p)
	}
}

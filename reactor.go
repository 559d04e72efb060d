package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"
)

// Reactor is a readiness-based event loop.
//
// The zero value is not usable; construct with New. Most methods may be
// called from any goroutine. Selectable callbacks, delayed calls, thread
// calls, and system event triggers all run on the I/O goroutine.
type Reactor struct {
	logger  *Logger
	limiter *catrate.Limiter
	opts    *reactorOptions
	timers  *TimerQueue
	demux   demultiplexer
	reg     *registry
	waker   waker
	events  *systemEvents
	metrics *reactorMetrics
	pool    *ThreadPool
	id      string

	// evbuf is reused across waits, and only touched by the I/O goroutine
	evbuf []readyEvent

	calls threadCalls

	closeErr  error
	closeOnce sync.Once
	poolMu    sync.Mutex

	ioGoroutine atomic.Uint64
	state       runState
	justStopped atomic.Bool
	exitLoop    atomic.Bool

	// shutdownDone is only accessed by the I/O goroutine
	shutdownDone bool
}

// New creates a reactor, acquiring its demultiplexer and waker. On
// failure, nothing is left open.
func New(opts ...Option) (*Reactor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	d, err := newDemultiplexer(cfg.backend)
	if err != nil {
		return nil, err
	}
	w, err := newWaker(d, cfg.loopbackWaker)
	if err != nil {
		_ = d.close()
		return nil, err
	}

	r := &Reactor{
		logger:  cfg.logger,
		limiter: newLogLimiter(),
		opts:    cfg,
		demux:   d,
		reg:     newRegistry(d),
		waker:   w,
		id:      uuid.NewString(),
		evbuf:   make([]readyEvent, 0, 64),
	}
	if err := r.reg.setWaker(w); err != nil {
		_ = w.close()
		_ = d.close()
		return nil, err
	}

	r.timers = NewTimerQueue(cfg.clock)
	r.timers.debug = cfg.debugCalls
	r.timers.onPanic = r.logDelayedCallPanic
	r.timers.onSooner = r.onTimerSooner

	r.events = newSystemEvents(r)
	r.events.hooks[EventStartup] = coreHooks{during: r.startupDuring}
	r.events.hooks[EventShutdown] = coreHooks{during: r.disconnectAll, done: r.shutdownComplete}

	if cfg.metricsEnabled {
		r.metrics = newReactorMetrics()
	}

	r.logger.Debug().
		Str("reactor", r.id).
		Stringer("backend", d.backend()).
		Log(`reactor created`)

	return r, nil
}

// ID returns the reactor's unique id, as used in its log lines.
func (r *Reactor) ID() string { return r.id }

// Backend returns the demultiplexer in use.
func (r *Reactor) Backend() Backend { return r.demux.backend() }

// State returns the current lifecycle state.
func (r *Reactor) State() RunState { return r.state.load() }

// Running reports whether startup has completed and the loop has not yet
// exited.
func (r *Reactor) Running() bool {
	s := r.state.load()
	return s == StateRunning || s == StateStopping
}

// IsIOThread reports whether the caller is the I/O goroutine.
func (r *Reactor) IsIOThread() bool {
	id := r.ioGoroutine.Load()
	return id != 0 && id == goroutineID()
}

// Run fires "startup" and runs the loop on the calling goroutine, which is
// locked to its OS thread for the duration. It returns once a Stop has
// completed the shutdown event, or after Crash.
//
// Cancelling ctx is equivalent to calling Stop, in which case Run returns
// ctx.Err() once shutdown completes.
func (r *Reactor) Run(ctx context.Context) error {
	if r.IsIOThread() {
		return ErrReentrantRun
	}
	if err := r.begin(); err != nil {
		return err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.ioGoroutine.Store(goroutineID())
	defer r.ioGoroutine.Store(0)

	if r.opts.signalHandlers {
		defer r.installSignals()()
	}

	defer r.watchContext(ctx)()

	r.logger.Info().
		Str("reactor", r.id).
		Stringer("backend", r.demux.backend()).
		Log(`reactor starting`)

	r.events.fire(EventStartup)
	r.mainLoop()
	r.finish()

	if r.state.load() == StateStopped {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// begin moves an idle or crashed reactor to StateStarting.
func (r *Reactor) begin() error {
	if _, ok := r.state.transitionAny([]RunState{StateIdle, StateCrashed}, StateStarting); !ok {
		if r.state.load() == StateStopped {
			return ErrNotRestartable
		}
		return ErrAlreadyRunning
	}
	r.exitLoop.Store(false)
	r.justStopped.Store(false)
	r.shutdownDone = false
	return nil
}

// watchContext stops the reactor when ctx is done. The returned function
// ends the watch.
func (r *Reactor) watchContext(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = r.Stop()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (r *Reactor) mainLoop() {
	for !r.exitLoop.Load() {
		r.runUntilCurrent()
		if r.exitLoop.Load() {
			break
		}
		r.doIteration(r.timeout())
	}
}

// finish records how the loop ended.
func (r *Reactor) finish() {
	if r.shutdownDone {
		r.state.store(StateStopped)
		if err := r.release(); err != nil {
			r.logger.Warning().
				Str("reactor", r.id).
				Err(err).
				Log(`reactor stopped, but releasing resources failed`)
			return
		}
		r.logger.Info().
			Str("reactor", r.id).
			Log(`reactor stopped`)
		return
	}
	r.state.store(StateCrashed)
	r.logger.Warning().
		Str("reactor", r.id).
		Log(`reactor crashed`)
}

// runUntilCurrent runs queued thread calls, then due delayed calls, then
// begins shutdown if Stop was called since the last pass.
func (r *Reactor) runUntilCurrent() {
	ran, remaining := r.calls.drain(r.runThreadCall)
	if remaining > 0 {
		r.waker.wakeUp()
	}

	n := r.timers.RunDue(r.timers.Now())

	if r.metrics != nil {
		r.metrics.threadCalls.Add(uint64(ran))
		r.metrics.observeThreadCalls(ran)
		r.metrics.timersRun.Add(uint64(n))
	}

	if r.justStopped.CompareAndSwap(true, false) {
		r.events.fire(EventShutdown)
	}
}

func (r *Reactor) runThreadCall(fn func()) {
	if p := invokeCall(fn); p != nil {
		r.logPanic("thread call", *p)
	}
}

// timeout returns how long the next wait may block. A negative result
// means indefinitely.
func (r *Reactor) timeout() time.Duration {
	if r.calls.len() > 0 || r.justStopped.Load() || r.exitLoop.Load() {
		return 0
	}
	limit := r.demux.maxWait()
	if r.opts.maxWait > 0 {
		limit = min(limit, r.opts.maxWait)
	}
	d, ok := r.timers.NextDeadline()
	if !ok {
		if r.opts.maxWait > 0 {
			return limit
		}
		return -1
	}
	return min(d, limit)
}

// Stop requests a clean shutdown. The "shutdown" event fires on the next
// pass of the loop, and the loop exits once it completes. Stop returns
// ErrNotRunning unless the reactor is starting or running.
func (r *Reactor) Stop() error {
	if _, ok := r.state.transitionAny([]RunState{StateStarting, StateRunning}, StateStopping); !ok {
		return ErrNotRunning
	}
	r.justStopped.Store(true)
	r.waker.wakeUp()
	return nil
}

// Crash makes the loop exit as soon as possible, without firing
// "shutdown". Selectables stay registered and pending calls stay queued.
// This is rude, and intended for tests; a crashed reactor may be run again.
func (r *Reactor) Crash() error {
	if !r.state.load().active() {
		return ErrNotRunning
	}
	r.exitLoop.Store(true)
	r.waker.wakeUp()
	return nil
}

// Iterate runs one pass of the loop on the calling goroutine: queued thread
// calls and due delayed calls, then a single wait of at most delay,
// dispatching whatever becomes ready. It is for tests and for driving the
// reactor by hand, and fails with ErrAlreadyRunning while Run or
// Interleave is in progress.
func (r *Reactor) Iterate(delay time.Duration) error {
	switch s := r.state.load(); {
	case s.active():
		return ErrAlreadyRunning
	case s == StateStopped:
		return ErrNotRestartable
	}
	id := goroutineID()
	if !r.ioGoroutine.CompareAndSwap(0, id) {
		return ErrAlreadyRunning
	}
	defer r.ioGoroutine.Store(0)

	r.runUntilCurrent()
	r.doIteration(max(delay, 0))
	return nil
}

// Close releases the demultiplexer and waker of a reactor that is not
// running, moving it to StateStopped. It is a no-op after a completed
// shutdown, which releases them automatically. Selectables left registered
// after a Crash are not notified.
func (r *Reactor) Close() error {
	for {
		s := r.state.load()
		if s.active() {
			return ErrAlreadyRunning
		}
		if s == StateStopped || r.state.tryTransition(s, StateStopped) {
			break
		}
	}
	return r.release()
}

func (r *Reactor) release() error {
	r.closeOnce.Do(func() {
		r.closeErr = errors.Join(r.waker.close(), r.demux.close())
	})
	return r.closeErr
}

func (r *Reactor) startupDuring() {
	r.state.tryTransition(StateStarting, StateRunning)
}

func (r *Reactor) shutdownComplete() {
	// the event may also be fired by hand
	if r.state.load() != StateStopping {
		return
	}
	r.shutdownDone = true
	r.exitLoop.Store(true)
}

// disconnectAll removes every selectable, notifying each with
// ErrConnectionLost.
func (r *Reactor) disconnectAll() {
	for _, s := range r.reg.removeAll() {
		r.connectionLost(s, ErrConnectionLost)
	}
}

func (r *Reactor) onTimerSooner() {
	if !r.IsIOThread() {
		r.waker.wakeUp()
	}
}

// CallLater schedules fn to run on the I/O goroutine once delay has
// elapsed. Calls due at the same instant run in the order scheduled.
func (r *Reactor) CallLater(delay time.Duration, fn func()) *DelayedCall {
	return r.timers.ScheduleAfter(delay, fn)
}

// Now returns the reactor clock's current reading.
func (r *Reactor) Now() time.Time { return r.timers.Now() }

// Seconds returns the reactor clock's current reading, in seconds since
// the Unix epoch.
func (r *Reactor) Seconds() float64 {
	return float64(r.timers.Now().UnixNano()) / float64(time.Second)
}

// GetDelayedCalls returns the pending delayed calls, in firing order.
func (r *Reactor) GetDelayedCalls() []*DelayedCall {
	return r.timers.Snapshot()
}

// CallFromThread arranges for fn to run on the I/O goroutine. Calls made
// from other goroutines run in FIFO order, ahead of due delayed calls, on
// the next pass of the loop. On the I/O goroutine it is CallLater(0, fn).
func (r *Reactor) CallFromThread(fn func()) {
	if fn == nil {
		panic("reactor: nil function passed to CallFromThread")
	}
	if r.IsIOThread() {
		r.timers.ScheduleAfter(0, fn)
		return
	}
	r.calls.push(fn)
	r.waker.wakeUp()
}

// CallWhenRunning runs fn as soon as the reactor is running. If it already
// is, fn runs immediately (or is handed to the I/O goroutine), and the
// boolean result is false. Otherwise fn is registered as an "after startup"
// trigger, whose id is returned.
func (r *Reactor) CallWhenRunning(fn func()) (TriggerID, bool) {
	if r.Running() {
		if r.IsIOThread() {
			fn()
		} else {
			r.CallFromThread(fn)
		}
		return TriggerID{}, false
	}
	id, _ := r.AddSystemEventTrigger(PhaseAfter, EventStartup, fn)
	return id, true
}

// AddReader starts watching s for readability. Adding a reader twice is a
// no-op.
func (r *Reactor) AddReader(s ReadDescriptor) error { return r.reg.addReader(s) }

// AddWriter starts watching s for writability. Adding a writer twice is a
// no-op.
func (r *Reactor) AddWriter(s WriteDescriptor) error { return r.reg.addWriter(s) }

// RemoveReader stops watching s for readability. Removing a reader that is
// not registered is a no-op.
func (r *Reactor) RemoveReader(s ReadDescriptor) { r.reg.removeReader(s) }

// RemoveWriter stops watching s for writability. Removing a writer that is
// not registered is a no-op.
func (r *Reactor) RemoveWriter(s WriteDescriptor) { r.reg.removeWriter(s) }

// RemoveAll unregisters every selectable, returning each once. Nothing is
// notified.
func (r *Reactor) RemoveAll() []FileDescriptor { return r.reg.removeAll() }

// GetReaders returns the registered readers, ordered by descriptor.
func (r *Reactor) GetReaders() []ReadDescriptor { return r.reg.getReaders() }

// GetWriters returns the registered writers, ordered by descriptor.
func (r *Reactor) GetWriters() []WriteDescriptor { return r.reg.getWriters() }

// GetThreadPool returns the reactor's thread pool, creating it on first
// use. The pool starts once the reactor is running, and is stopped during
// shutdown.
func (r *Reactor) GetThreadPool() *ThreadPool {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	if r.pool == nil {
		// the size was validated by WithThreadPoolSize
		p, _ := NewThreadPool(r.opts.poolMin, r.opts.poolMax, r.logger)
		r.pool = p
		_, _ = r.AddSystemEventTrigger(PhaseDuring, EventShutdown, p.Stop)
		r.CallWhenRunning(p.Start)
	}
	return r.pool
}

// CallInThread runs fn on the thread pool.
func (r *Reactor) CallInThread(fn func()) error {
	return r.GetThreadPool().CallInThread(fn)
}

// CallInThreadWithCallback runs fn on the thread pool, then delivers its
// result to onResult on the I/O goroutine.
func (r *Reactor) CallInThreadWithCallback(fn func() (any, error), onResult func(any, error)) error {
	return r.GetThreadPool().CallInThreadWithCallback(fn, func(result any, err error) {
		if onResult != nil {
			r.CallFromThread(func() { onResult(result, err) })
		}
	})
}

// SuggestThreadPoolSize sets the thread pool's maximum size.
func (r *Reactor) SuggestThreadPoolSize(n int) error {
	p := r.GetThreadPool()
	return p.AdjustPoolSize(min(p.Stats().Min, n), n)
}

// Metrics returns a snapshot of runtime statistics. Counters and latencies
// are only collected when enabled with WithMetrics, but the registration
// and timer counts are always filled in.
func (r *Reactor) Metrics() Metrics {
	var m Metrics
	if r.metrics != nil {
		m = r.metrics.snapshot()
	}
	m.Readers, m.Writers = r.reg.len()
	m.PendingTimers = r.timers.Len()
	return m
}

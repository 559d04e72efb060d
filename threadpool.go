package reactor

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/eapache/queue"
)

// ThreadPool runs blocking functions on a bounded set of worker
// goroutines, fed from a FIFO work queue.
//
// Workers are started on demand, up to max, and min of them are kept alive
// while idle. Work submitted before Start is queued and runs once the pool
// starts. Stop lets queued work finish, then waits for every worker.
type ThreadPool struct {
	logger  *Logger
	work    *queue.Queue
	cond    *sync.Cond
	name    string
	wg      sync.WaitGroup
	min     int
	max     int
	workers int
	idle    int
	mu      sync.Mutex
	started bool
	joined  bool
}

// ThreadPoolStats is a point-in-time view of a ThreadPool.
type ThreadPoolStats struct {
	Min     int
	Max     int
	Workers int
	Idle    int
	Queued  int
	Started bool
	Joined  bool
}

// NewThreadPool returns a stopped pool. It fails if min is negative or max
// is less than min or zero.
func NewThreadPool(min, max int, logger *Logger) (*ThreadPool, error) {
	if err := validatePoolSize(min, max); err != nil {
		return nil, err
	}
	p := &ThreadPool{
		logger: logger,
		work:   queue.New(),
		name:   "reactor",
		min:    min,
		max:    max,
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

func validatePoolSize(min, max int) error {
	if min < 0 || max < 1 || max < min {
		return fmt.Errorf("reactor: invalid thread pool size: min=%d max=%d", min, max)
	}
	return nil
}

// Start launches min workers, plus enough to cover queued work. It is a
// no-op on a started or stopped pool.
func (p *ThreadPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.joined {
		return
	}
	p.started = true
	p.grow()
}

// CallInThread queues fn. It returns ErrThreadPoolStopped once Stop has
// been called.
func (p *ThreadPool) CallInThread(fn func()) error {
	if fn == nil {
		panic("reactor: nil function submitted to thread pool")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joined {
		return ErrThreadPoolStopped
	}
	p.work.Add(fn)
	if p.started {
		if p.idle > 0 {
			p.cond.Signal()
		}
		p.grow()
	}
	return nil
}

// CallInThreadWithCallback runs fn in a worker, then calls onResult with its
// result, on the same worker. A panic in fn is reported as a PanicError.
func (p *ThreadPool) CallInThreadWithCallback(fn func() (any, error), onResult func(any, error)) error {
	return p.CallInThread(func() {
		var (
			result any
			err    error
		)
		if perr := invokeCall(func() { result, err = fn() }); perr != nil {
			err = *perr
		}
		if onResult != nil {
			onResult(result, err)
		}
	})
}

// AdjustPoolSize changes the bounds. Surplus idle workers exit, and new
// workers are started for queued work.
func (p *ThreadPool) AdjustPoolSize(min, max int) error {
	if err := validatePoolSize(min, max); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.min, p.max = min, max
	if p.started && !p.joined {
		if p.workers > p.max {
			p.cond.Broadcast()
		}
		p.grow()
	}
	return nil
}

// Stop prevents further submissions, drains the queue, and waits for the
// workers to exit. Calling Stop from a worker deadlocks.
func (p *ThreadPool) Stop() {
	p.mu.Lock()
	if p.joined {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.joined = true
	if !p.started {
		// queued work still runs
		p.started = true
		p.grow()
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns the pool's current counters.
func (p *ThreadPool) Stats() ThreadPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ThreadPoolStats{
		Min:     p.min,
		Max:     p.max,
		Workers: p.workers,
		Idle:    p.idle,
		Queued:  p.work.Length(),
		Started: p.started,
		Joined:  p.joined,
	}
}

// grow must be called with mu held.
func (p *ThreadPool) grow() {
	need := max(p.min, min(p.workers+p.work.Length()-p.idle, p.max))
	for p.workers < need {
		p.workers++
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *ThreadPool) worker() {
	defer p.wg.Done()

	p.mu.Lock()
	for {
		for p.work.Length() == 0 && !p.joined && p.workers <= p.max {
			p.idle++
			p.cond.Wait()
			p.idle--
		}
		if p.work.Length() == 0 || p.workers > p.max {
			p.workers--
			p.mu.Unlock()
			return
		}
		fn := p.work.Remove().(func())
		p.mu.Unlock()

		p.run(fn)

		p.mu.Lock()
	}
}

func (p *ThreadPool) run(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			if b := p.logger.Err(); b.Enabled() {
				b.Str("pool", p.name).
					Any("panic", v).
					Str("stack", string(debug.Stack())).
					Log(`thread pool work panicked`)
			}
		}
	}()
	fn()
}

package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of a reactor's runtime statistics, returned by
// Reactor.Metrics when metrics are enabled with WithMetrics.
//
// Example:
//
//	r, _ := reactor.New(reactor.WithMetrics(true))
//	go r.Run(ctx)
//	m := r.Metrics()
//	fmt.Printf("events/s: %.1f, wait P99: %v\n", m.EventsPerSecond, m.Wait.P99)
type Metrics struct {
	// Wait is the time spent blocked in the OS wait.
	Wait LatencyStats
	// Work is the time spent per iteration outside the OS wait.
	Work LatencyStats
	// ThreadCallQueue tracks the CallFromThread backlog at each drain.
	ThreadCallQueue QueueStats

	Iterations    uint64
	TimersRun     uint64
	ThreadCalls   uint64
	IOEvents      uint64
	Disconnects   uint64
	Panics        uint64
	Preens        uint64
	PendingTimers int
	Readers       int
	Writers       int

	// EventsPerSecond is the I/O dispatch rate over a rolling window.
	EventsPerSecond float64
}

// QueueStats tracks a queue's depth.
type QueueStats struct {
	Current int
	Max     int
	// Avg is an exponential moving average with alpha=0.1, seeded with the
	// first observation.
	Avg float64
}

func (q *QueueStats) observe(depth int, seeded *bool) {
	q.Current = depth
	q.Max = max(q.Max, depth)
	if !*seeded {
		q.Avg = float64(depth)
		*seeded = true
	} else {
		q.Avg = 0.9*q.Avg + 0.1*float64(depth)
	}
}

// reactorMetrics is the live collector behind Metrics. Counters are atomic,
// so off-thread readers never contend with the loop for them.
type reactorMetrics struct {
	rate        *rateCounter
	wait        *latencyEstimator
	work        *latencyEstimator
	queue       QueueStats
	iterations  atomic.Uint64
	timersRun   atomic.Uint64
	threadCalls atomic.Uint64
	ioEvents    atomic.Uint64
	disconnects atomic.Uint64
	panics      atomic.Uint64
	preens      atomic.Uint64
	mu          sync.Mutex
	queueSeeded bool
}

func newReactorMetrics() *reactorMetrics {
	return &reactorMetrics{
		rate: newRateCounter(10*time.Second, 100*time.Millisecond),
		wait: newLatencyEstimator(),
		work: newLatencyEstimator(),
	}
}

func (m *reactorMetrics) recordIteration(wait, work time.Duration, events int) {
	m.iterations.Add(1)
	m.ioEvents.Add(uint64(events))
	if events > 0 {
		m.rate.add(int64(events))
	}
	m.mu.Lock()
	m.wait.record(wait)
	m.work.record(work)
	m.mu.Unlock()
}

func (m *reactorMetrics) observeThreadCalls(depth int) {
	m.mu.Lock()
	m.queue.observe(depth, &m.queueSeeded)
	m.mu.Unlock()
}

func (m *reactorMetrics) snapshot() Metrics {
	m.mu.Lock()
	out := Metrics{
		Wait:            m.wait.stats(),
		Work:            m.work.stats(),
		ThreadCallQueue: m.queue,
	}
	m.mu.Unlock()
	out.Iterations = m.iterations.Load()
	out.TimersRun = m.timersRun.Load()
	out.ThreadCalls = m.threadCalls.Load()
	out.IOEvents = m.ioEvents.Load()
	out.Disconnects = m.disconnects.Load()
	out.Panics = m.panics.Load()
	out.Preens = m.preens.Load()
	out.EventsPerSecond = m.rate.perSecond()
	return out
}

// rateCounter counts events over a rolling window of fixed-size buckets.
type rateCounter struct {
	last    time.Time
	buckets []int64
	bucket  time.Duration
	window  time.Duration
	mu      sync.Mutex
}

func newRateCounter(window, bucket time.Duration) *rateCounter {
	n := max(int(window/bucket), 1)
	return &rateCounter{
		last:    time.Now(),
		buckets: make([]int64, n),
		bucket:  bucket,
		window:  window,
	}
}

func (c *rateCounter) add(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotate(time.Now())
	c.buckets[len(c.buckets)-1] += n
}

func (c *rateCounter) perSecond() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotate(time.Now())
	var sum int64
	for _, v := range c.buckets {
		sum += v
	}
	return float64(sum) / c.window.Seconds()
}

// rotate must be called with mu held.
func (c *rateCounter) rotate(now time.Time) {
	advance := int(now.Sub(c.last) / c.bucket)
	if advance <= 0 {
		return
	}
	if advance >= len(c.buckets) {
		clear(c.buckets)
		c.last = now
		return
	}
	copy(c.buckets, c.buckets[advance:])
	clear(c.buckets[len(c.buckets)-advance:])
	c.last = c.last.Add(time.Duration(advance) * c.bucket)
}

// Package reactorprom exports reactor metrics to Prometheus.
package reactorprom

import (
	"net/http"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source is implemented by *reactor.Reactor.
type Source interface {
	ID() string
	Metrics() reactor.Metrics
}

// Collector is a prometheus.Collector reading a reactor's Metrics snapshot
// at scrape time. Every series carries a "reactor" label with the
// reactor's ID.
type Collector struct {
	src Source

	iterations  *prometheus.Desc
	timersRun   *prometheus.Desc
	threadCalls *prometheus.Desc
	ioEvents    *prometheus.Desc
	disconnects *prometheus.Desc
	panics      *prometheus.Desc
	preens      *prometheus.Desc

	readers       *prometheus.Desc
	writers       *prometheus.Desc
	pendingTimers *prometheus.Desc
	queueDepth    *prometheus.Desc
	queueMax      *prometheus.Desc
	eventRate     *prometheus.Desc

	wait *prometheus.Desc
	work *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for src, with metric names prefixed by
// namespace (if non-empty) and "reactor".
func NewCollector(src Source, namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "reactor", name),
			help,
			[]string{"reactor"},
			nil,
		)
	}
	return &Collector{
		src:           src,
		iterations:    desc("iterations_total", "Loop iterations completed."),
		timersRun:     desc("timers_run_total", "Delayed calls run."),
		threadCalls:   desc("thread_calls_total", "Calls handed over with CallFromThread and run."),
		ioEvents:      desc("io_events_total", "Readiness events dispatched."),
		disconnects:   desc("disconnects_total", "Selectables torn down with ConnectionLost."),
		panics:        desc("panics_total", "Panics recovered from callbacks."),
		preens:        desc("preens_total", "Scans for invalid descriptors."),
		readers:       desc("readers", "Selectables registered for reading."),
		writers:       desc("writers", "Selectables registered for writing."),
		pendingTimers: desc("pending_timers", "Delayed calls not yet run."),
		queueDepth:    desc("thread_call_queue_depth", "CallFromThread backlog at the last drain."),
		queueMax:      desc("thread_call_queue_depth_max", "Largest CallFromThread backlog observed."),
		eventRate:     desc("io_events_per_second", "Readiness events dispatched per second, over a rolling window."),
		wait:          desc("wait_seconds", "Time blocked in the OS wait."),
		work:          desc("dispatch_seconds", "Time spent dispatching ready events."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range [...]*prometheus.Desc{
		c.iterations, c.timersRun, c.threadCalls, c.ioEvents, c.disconnects, c.panics, c.preens,
		c.readers, c.writers, c.pendingTimers, c.queueDepth, c.queueMax, c.eventRate,
		c.wait, c.work,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var (
		m  = c.src.Metrics()
		id = c.src.ID()
	)

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), id)
	}
	counter(c.iterations, m.Iterations)
	counter(c.timersRun, m.TimersRun)
	counter(c.threadCalls, m.ThreadCalls)
	counter(c.ioEvents, m.IOEvents)
	counter(c.disconnects, m.Disconnects)
	counter(c.panics, m.Panics)
	counter(c.preens, m.Preens)

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, id)
	}
	gauge(c.readers, float64(m.Readers))
	gauge(c.writers, float64(m.Writers))
	gauge(c.pendingTimers, float64(m.PendingTimers))
	gauge(c.queueDepth, float64(m.ThreadCallQueue.Current))
	gauge(c.queueMax, float64(m.ThreadCallQueue.Max))
	gauge(c.eventRate, m.EventsPerSecond)

	ch <- summary(c.wait, m.Wait, id)
	ch <- summary(c.work, m.Work, id)
}

func summary(d *prometheus.Desc, s reactor.LatencyStats, id string) prometheus.Metric {
	sum := (time.Duration(s.Count) * s.Mean).Seconds()
	return prometheus.MustNewConstSummary(d, uint64(s.Count), sum, map[float64]float64{
		0.5:  s.P50.Seconds(),
		0.9:  s.P90.Seconds(),
		0.99: s.P99.Seconds(),
	}, id)
}

// Handler serves the metrics of reg, in OpenMetrics format where
// negotiated.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

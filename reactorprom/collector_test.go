package reactorprom

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	m reactor.Metrics
}

func (fakeSource) ID() string { return "r1" }

func (f fakeSource) Metrics() reactor.Metrics { return f.m }

func scrape(t *testing.T, src Source) string {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(src, "test")))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector(t *testing.T) {
	body := scrape(t, fakeSource{m: reactor.Metrics{
		Iterations: 12,
		Panics:     1,
		Readers:    3,
		Wait: reactor.LatencyStats{
			P50:   time.Millisecond,
			P90:   2 * time.Millisecond,
			P99:   4 * time.Millisecond,
			Mean:  time.Millisecond,
			Count: 10,
		},
		ThreadCallQueue: reactor.QueueStats{Current: 2, Max: 7},
	}})

	for _, want := range []string{
		`test_reactor_iterations_total{reactor="r1"} 12`,
		`test_reactor_panics_total{reactor="r1"} 1`,
		`test_reactor_readers{reactor="r1"} 3`,
		`test_reactor_thread_call_queue_depth_max{reactor="r1"} 7`,
		`test_reactor_wait_seconds{reactor="r1",quantile="0.99"} 0.004`,
		`test_reactor_wait_seconds_sum{reactor="r1"} 0.01`,
		`test_reactor_wait_seconds_count{reactor="r1"} 10`,
		`test_reactor_dispatch_seconds_count{reactor="r1"} 0`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestCollector_liveReactor(t *testing.T) {
	r, err := reactor.New(reactor.WithSignalHandlers(false), reactor.WithMetrics(true))
	require.NoError(t, err)
	defer r.Close()
	r.CallLater(time.Hour, func() {})

	body := scrape(t, r)
	assert.Contains(t, body, `test_reactor_pending_timers{reactor="`+r.ID()+`"} 1`)
}

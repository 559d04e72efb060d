package reactor

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuantile_uniform(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	values := rng.Perm(10000)

	for _, p := range []float64{0.5, 0.9, 0.99} {
		q := newQuantile(p)
		for _, v := range values {
			q.add(float64(v))
		}
		assert.InDelta(t, p*10000, q.value(), 10000*0.02, "p=%v", p)
	}
}

func TestQuantile_small(t *testing.T) {
	q := newQuantile(0.5)
	assert.Zero(t, q.value())
	for _, v := range []float64{9, 1, 5} {
		q.add(v)
	}
	assert.Equal(t, 5.0, q.value())
}

func TestQuantile_constant(t *testing.T) {
	q := newQuantile(0.9)
	for range 100 {
		q.add(7)
	}
	assert.Equal(t, 7.0, q.value())
}

func TestLatencyEstimator(t *testing.T) {
	l := newLatencyEstimator()
	assert.Equal(t, LatencyStats{}, l.stats())

	rng := rand.New(rand.NewPCG(3, 4))
	for _, i := range rng.Perm(1000) {
		l.record(time.Duration(i+1) * time.Microsecond)
	}
	s := l.stats()
	assert.Equal(t, 1000, s.Count)
	assert.Equal(t, 1000*time.Microsecond, s.Max)
	assert.Equal(t, 500500*time.Nanosecond, s.Mean)
	assert.InDelta(t, float64(500*time.Microsecond), float64(s.P50), float64(20*time.Microsecond))
	assert.InDelta(t, float64(990*time.Microsecond), float64(s.P99), float64(20*time.Microsecond))
	assert.LessOrEqual(t, s.P50, s.P90)
	assert.LessOrEqual(t, s.P90, s.P99)
}

package reactor

import (
	"slices"
	"time"
)

// quantile estimates one quantile of a stream in constant space, using the
// P-square algorithm of Jain and Chlamtac (CACM, 1985). Five markers track
// the minimum, the maximum, the target quantile, and the midpoints between;
// marker heights are nudged with a piecewise-parabolic formula as
// observations arrive.
//
// NOT thread-safe.
type quantile struct {
	heights [5]float64
	want    [5]float64
	step    [5]float64
	pos     [5]int
	p       float64
	n       int
}

func newQuantile(p float64) *quantile {
	p = min(max(p, 0), 1)
	return &quantile{
		p:    p,
		step: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (q *quantile) add(x float64) {
	if q.n < 5 {
		q.heights[q.n] = x
		q.n++
		if q.n == 5 {
			slices.Sort(q.heights[:])
			q.pos = [5]int{0, 1, 2, 3, 4}
			q.want = [5]float64{0, 2 * q.p, 4 * q.p, 2 + 2*q.p, 4}
		}
		return
	}
	q.n++

	var k int
	switch {
	case x < q.heights[0]:
		q.heights[0] = x
	case x >= q.heights[4]:
		q.heights[4] = x
		k = 3
	default:
		for k < 3 && x >= q.heights[k+1] {
			k++
		}
	}

	for i := k + 1; i < 5; i++ {
		q.pos[i]++
	}
	for i := range q.want {
		q.want[i] += q.step[i]
	}

	for i := 1; i < 4; i++ {
		d := q.want[i] - float64(q.pos[i])
		if (d < 1 || q.pos[i+1]-q.pos[i] <= 1) && (d > -1 || q.pos[i-1]-q.pos[i] >= -1) {
			continue
		}
		s := 1
		if d < 0 {
			s = -1
		}
		h := q.parabolic(i, s)
		if h <= q.heights[i-1] || h >= q.heights[i+1] {
			h = q.linear(i, s)
		}
		q.heights[i] = h
		q.pos[i] += s
	}
}

func (q *quantile) parabolic(i, s int) float64 {
	var (
		d     = float64(s)
		n     = float64(q.pos[i])
		nPrev = float64(q.pos[i-1])
		nNext = float64(q.pos[i+1])
	)
	return q.heights[i] + d/(nNext-nPrev)*
		((n-nPrev+d)*(q.heights[i+1]-q.heights[i])/(nNext-n)+
			(nNext-n-d)*(q.heights[i]-q.heights[i-1])/(n-nPrev))
}

func (q *quantile) linear(i, s int) float64 {
	j := i + s
	return q.heights[i] + float64(s)*(q.heights[j]-q.heights[i])/float64(q.pos[j]-q.pos[i])
}

// value returns the current estimate. Below five observations it is the
// exact nearest-rank value.
func (q *quantile) value() float64 {
	switch {
	case q.n == 0:
		return 0
	case q.n < 5:
		sorted := slices.Clone(q.heights[:q.n])
		slices.Sort(sorted)
		return sorted[int(float64(q.n-1)*q.p)]
	default:
		return q.heights[2]
	}
}

// LatencyStats summarizes a stream of durations.
type LatencyStats struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// latencyEstimator tracks P50, P90 and P99 plus exact max and mean.
//
// NOT thread-safe.
type latencyEstimator struct {
	p50, p90, p99 *quantile
	sum           time.Duration
	max           time.Duration
	count         int
}

func newLatencyEstimator() *latencyEstimator {
	return &latencyEstimator{
		p50: newQuantile(0.50),
		p90: newQuantile(0.90),
		p99: newQuantile(0.99),
	}
}

func (l *latencyEstimator) record(d time.Duration) {
	x := float64(d)
	l.p50.add(x)
	l.p90.add(x)
	l.p99.add(x)
	l.sum += d
	l.max = max(l.max, d)
	l.count++
}

func (l *latencyEstimator) stats() LatencyStats {
	if l.count == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		P50:   time.Duration(l.p50.value()),
		P90:   time.Duration(l.p90.value()),
		P99:   time.Duration(l.p99.value()),
		Max:   l.max,
		Mean:  l.sum / time.Duration(l.count),
		Count: l.count,
	}
}

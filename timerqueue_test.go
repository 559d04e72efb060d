package reactor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestTimerQueue_ordering(t *testing.T) {
	sim := NewSimulation(epoch)
	var got []string
	record := func(name string) func() {
		return func() { got = append(got, name) }
	}

	sim.ScheduleAfter(5*time.Second, record("5"))
	sim.ScheduleAfter(1*time.Second, record("1a"))
	sim.ScheduleAfter(3*time.Second, record("3"))
	sim.ScheduleAfter(1*time.Second, record("1b"))

	assert.Equal(t, 4, sim.Len())
	assert.Equal(t, 4, sim.Advance(10*time.Second))

	if diff := cmp.Diff([]string{"1a", "1b", "3", "5"}, got); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
	assert.Zero(t, sim.Len())
}

func TestTimerQueue_negativeDelay(t *testing.T) {
	sim := NewSimulation(epoch)
	c := sim.ScheduleAfter(-time.Hour, func() {})
	assert.Equal(t, epoch, c.Time())
	d, ok := sim.NextDeadline()
	assert.True(t, ok)
	assert.Zero(t, d)
}

func TestTimerQueue_NextDeadline(t *testing.T) {
	sim := NewSimulation(epoch)
	_, ok := sim.NextDeadline()
	assert.False(t, ok)

	sim.ScheduleAfter(3*time.Second, func() {})
	sim.ScheduleAfter(2*time.Second, func() {})
	d, ok := sim.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	sim.Clock.Advance(5 * time.Second)
	d, ok = sim.NextDeadline()
	require.True(t, ok)
	assert.Zero(t, d)
}

func TestTimerQueue_RunDue_zeroDelayLivelock(t *testing.T) {
	q := NewTimerQueue(NewManualClock(epoch))
	var n int
	var again func()
	again = func() {
		n++
		q.ScheduleAfter(0, again)
	}
	q.ScheduleAfter(0, again)

	// each pass runs only what was pending when it started
	assert.Equal(t, 1, q.RunDue(epoch))
	assert.Equal(t, 1, q.RunDue(epoch))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, q.Len())
}

func TestTimerQueue_RunDue_rescheduledDuringPass(t *testing.T) {
	q := NewTimerQueue(NewManualClock(epoch))
	var ran []string
	var b *DelayedCall
	q.ScheduleAfter(0, func() {
		ran = append(ran, "a")
		require.NoError(t, b.Reset(0))
	})
	b = q.ScheduleAfter(0, func() { ran = append(ran, "b") })

	assert.Equal(t, 1, q.RunDue(epoch))
	assert.Equal(t, []string{"a"}, ran)
	assert.Equal(t, 1, q.RunDue(epoch))
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestTimerQueue_RunDue_movedEarlierDuringPass(t *testing.T) {
	q := NewTimerQueue(NewManualClock(epoch))
	var ran []string
	var x *DelayedCall
	q.ScheduleAfter(time.Millisecond, func() {
		ran = append(ran, "a")
		// x moves ahead of b, but is newer than this pass
		require.NoError(t, x.Delay(-9*time.Millisecond))
		assert.Equal(t, 2, q.Len())
		assert.Equal(t, []*DelayedCall{x}, q.Snapshot()[:1])
	})
	q.ScheduleAfter(2*time.Millisecond, func() { ran = append(ran, "b") })
	x = q.ScheduleAfter(10*time.Millisecond, func() { ran = append(ran, "x") })

	now := epoch.Add(2 * time.Millisecond)
	assert.Equal(t, 2, q.RunDue(now))
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, epoch.Add(time.Millisecond), x.Time())

	assert.Equal(t, 1, q.RunDue(now))
	assert.Equal(t, []string{"a", "b", "x"}, ran)
}

func TestTimerQueue_RunDue_heldCallCancelAndReset(t *testing.T) {
	q := NewTimerQueue(NewManualClock(epoch))
	var ran []string
	var x, y *DelayedCall
	q.ScheduleAfter(0, func() {
		ran = append(ran, "a")
		// ahead of b, so both are set aside before b runs
		require.NoError(t, x.Delay(-2*time.Second))
		require.NoError(t, y.Delay(-2*time.Second))
	})
	q.ScheduleAfter(0, func() {
		ran = append(ran, "b")
		require.NoError(t, x.Cancel())
		require.NoError(t, y.Reset(time.Hour))
	})
	x = q.ScheduleAfter(time.Second, func() { ran = append(ran, "x") })
	y = q.ScheduleAfter(time.Second, func() { ran = append(ran, "y") })

	assert.Equal(t, 2, q.RunDue(epoch))
	assert.Equal(t, []string{"a", "b"}, ran)
	assert.Equal(t, []*DelayedCall{y}, q.Snapshot())
	assert.Equal(t, epoch.Add(time.Hour), y.Time())
	assert.Zero(t, q.RunDue(epoch))
}

func TestDelayedCall_Cancel(t *testing.T) {
	sim := NewSimulation(epoch)
	var ran bool
	c := sim.ScheduleAfter(time.Second, func() { ran = true })

	require.NoError(t, c.Cancel())
	assert.True(t, c.Cancelled())
	assert.False(t, c.Active())
	assert.ErrorIs(t, c.Cancel(), ErrAlreadyCancelled)
	assert.ErrorIs(t, c.Reset(time.Second), ErrAlreadyCancelled)
	assert.ErrorIs(t, c.Delay(time.Second), ErrAlreadyCancelled)

	assert.Zero(t, sim.Advance(time.Minute))
	assert.False(t, ran)
}

func TestDelayedCall_afterCalled(t *testing.T) {
	sim := NewSimulation(epoch)
	c := sim.ScheduleAfter(time.Second, func() {})
	sim.Advance(time.Second)

	assert.True(t, c.Called())
	assert.False(t, c.Active())
	assert.ErrorIs(t, c.Cancel(), ErrAlreadyCalled)
	assert.ErrorIs(t, c.Reset(time.Second), ErrAlreadyCalled)
	assert.ErrorIs(t, c.Delay(time.Second), ErrAlreadyCalled)
}

func TestDelayedCall_ResetAndDelay(t *testing.T) {
	sim := NewSimulation(epoch)
	var got []string
	a := sim.ScheduleAfter(time.Second, func() { got = append(got, "a") })
	sim.ScheduleAfter(2*time.Second, func() { got = append(got, "b") })

	require.NoError(t, a.Delay(2*time.Second))
	assert.Equal(t, epoch.Add(3*time.Second), a.Time())

	sim.Advance(2 * time.Second)
	assert.Equal(t, []string{"b"}, got)

	require.NoError(t, a.Reset(10*time.Second))
	assert.Equal(t, epoch.Add(12*time.Second), a.Time())
	sim.Advance(9 * time.Second)
	assert.Equal(t, []string{"b"}, got)
	sim.Advance(time.Second)
	assert.Equal(t, []string{"b", "a"}, got)
}

func TestTimerQueue_Snapshot(t *testing.T) {
	sim := NewSimulation(epoch)
	c3 := sim.ScheduleAfter(3*time.Second, func() {})
	c1 := sim.ScheduleAfter(time.Second, func() {})
	c2 := sim.ScheduleAfter(2*time.Second, func() {})
	assert.Equal(t, []*DelayedCall{c1, c2, c3}, sim.Snapshot())
}

func TestTimerQueue_panicWithHandler(t *testing.T) {
	sim := NewSimulation(epoch)
	var (
		panics []PanicError
		after  bool
	)
	sim.SetPanicHandler(func(_ *DelayedCall, p PanicError) {
		panics = append(panics, p)
	})
	sim.ScheduleAfter(0, func() { panic("boom") })
	sim.ScheduleAfter(0, func() { after = true })

	assert.Equal(t, 2, sim.Advance(0))
	require.Len(t, panics, 1)
	assert.Equal(t, "boom", panics[0].Value)
	assert.NotEmpty(t, panics[0].Stack)
	assert.True(t, after)
}

func TestTimerQueue_panicWithoutHandler(t *testing.T) {
	q := NewTimerQueue(NewManualClock(epoch))
	sentinel := errors.New("sentinel")
	var after bool
	q.ScheduleAfter(0, func() { panic(sentinel) })
	q.ScheduleAfter(0, func() { after = true })

	func() {
		defer func() {
			v := recover()
			p, ok := v.(PanicError)
			require.True(t, ok, "%T", v)
			assert.ErrorIs(t, p, sentinel)
		}()
		q.RunDue(epoch)
	}()
	assert.True(t, after, "remaining due calls still run")
}

func TestTimerQueue_nilFunc(t *testing.T) {
	q := NewTimerQueue(nil)
	assert.Panics(t, func() { q.ScheduleAfter(0, nil) })
}

func TestTimerQueue_onSooner(t *testing.T) {
	q := NewTimerQueue(NewManualClock(epoch))
	var n int
	q.onSooner = func() { n++ }

	q.ScheduleAfter(5*time.Second, func() {})
	assert.Equal(t, 1, n)
	q.ScheduleAfter(10*time.Second, func() {})
	assert.Equal(t, 1, n, "a later call does not change the deadline")
	c := q.ScheduleAfter(time.Second, func() {})
	assert.Equal(t, 2, n)
	require.NoError(t, c.Delay(time.Minute))
	assert.Equal(t, 2, n)
}

func TestDelayedCall_String(t *testing.T) {
	sim := NewSimulation(epoch)
	sim.debug = true
	c := sim.ScheduleAfter(1500*time.Millisecond, func() {})

	s := c.String()
	assert.True(t, strings.HasPrefix(s, "<DelayedCall [1.5s] "), s)
	assert.Contains(t, s, "created at:")
	assert.Contains(t, s, "TestDelayedCall_String")

	require.NoError(t, c.Cancel())
	assert.True(t, strings.HasPrefix(c.String(), "<DelayedCall cancelled"))
}

func TestSimulation_cascade(t *testing.T) {
	sim := NewSimulation(epoch)
	var got []time.Duration
	sim.ScheduleAfter(time.Second, func() {
		got = append(got, sim.Now().Sub(epoch))
		sim.ScheduleAfter(0, func() {
			got = append(got, sim.Now().Sub(epoch))
		})
	})
	assert.Equal(t, 2, sim.Advance(time.Second))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, got)
}

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(epoch)
	c.Advance(-time.Second)
	assert.Equal(t, epoch, c.Now())
	c.Advance(time.Second)
	assert.Equal(t, epoch.Add(time.Second), c.Now())
}

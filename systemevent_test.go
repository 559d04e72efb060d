package reactor

import (
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemEvent_phaseOrder(t *testing.T) {
	r, _ := newTestReactor(t)
	var got []string
	add := func(phase Phase, name string) {
		t.Helper()
		_, err := r.AddSystemEventTrigger(phase, "custom", func() { got = append(got, name) })
		require.NoError(t, err)
	}
	add(PhaseAfter, "after1")
	add(PhaseDuring, "during1")
	add(PhaseBefore, "before1")
	add(PhaseDuring, "during2")
	add(PhaseBefore, "before2")

	r.FireSystemEvent("custom")
	assert.Equal(t, []string{"before1", "before2", "during1", "during2", "after1"}, got)

	// triggers are one-shot
	got = nil
	r.FireSystemEvent("custom")
	assert.Empty(t, got)
}

func TestSystemEvent_invalidPhase(t *testing.T) {
	r, _ := newTestReactor(t)
	_, err := r.AddSystemEventTrigger(Phase(7), "custom", func() {})
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Equal(t, "Phase(7)", Phase(7).String())
}

func TestSystemEvent_remove(t *testing.T) {
	r, _ := newTestReactor(t)
	var ran bool
	id, err := r.AddSystemEventTrigger(PhaseDuring, "custom", func() { ran = true })
	require.NoError(t, err)

	require.NoError(t, r.RemoveSystemEventTrigger(id))
	assert.ErrorIs(t, r.RemoveSystemEventTrigger(id), ErrUnknownTrigger)
	assert.ErrorIs(t, r.RemoveSystemEventTrigger(TriggerID{event: "nope"}), ErrUnknownTrigger)

	r.FireSystemEvent("custom")
	assert.False(t, ran)
}

func TestSystemEvent_removeDuringFiring(t *testing.T) {
	r, _ := newTestReactor(t)
	var (
		got      []string
		beforeID TriggerID
		laterID  TriggerID
	)
	beforeID, _ = r.AddSystemEventTrigger(PhaseBefore, "custom", func() { got = append(got, "before") })
	_, _ = r.AddSystemEventTrigger(PhaseBefore, "custom", func() {
		got = append(got, "remover")
		// already ran, but removal during the same firing is allowed
		assert.NoError(t, r.RemoveSystemEventTrigger(beforeID))
		assert.ErrorIs(t, r.RemoveSystemEventTrigger(beforeID), ErrUnknownTrigger)
		// not yet run, so it never will
		assert.NoError(t, r.RemoveSystemEventTrigger(laterID))
	})
	laterID, _ = r.AddSystemEventTrigger(PhaseDuring, "custom", func() { got = append(got, "later") })

	r.FireSystemEvent("custom")
	assert.Equal(t, []string{"before", "remover"}, got)

	// outside the firing, the finished trigger is unknown again
	assert.ErrorIs(t, r.RemoveSystemEventTrigger(beforeID), ErrUnknownTrigger)
}

func TestSystemEvent_asyncBefore(t *testing.T) {
	r, _ := newTestReactor(t)
	var got []string
	results := make(chan error)
	_, err := r.AddAsyncSystemEventTrigger(PhaseBefore, "custom", func() <-chan error {
		got = append(got, "async")
		return results
	})
	require.NoError(t, err)
	_, _ = r.AddSystemEventTrigger(PhaseBefore, "custom", func() { got = append(got, "sync") })
	_, _ = r.AddSystemEventTrigger(PhaseDuring, "custom", func() { got = append(got, "during") })

	r.FireSystemEvent("custom")
	assert.Equal(t, []string{"async", "sync"}, got)
	assert.True(t, r.events.isFiring("custom"))

	// firing again while waiting is ignored
	r.FireSystemEvent("custom")

	results <- errTest
	require.Eventually(t, func() bool { return r.calls.len() == 1 }, time.Second, time.Millisecond)
	r.runUntilCurrent()

	assert.Equal(t, []string{"async", "sync", "during"}, got)
	assert.False(t, r.events.isFiring("custom"))
}

func TestSystemEvent_panickingTrigger(t *testing.T) {
	var buf syncBuffer
	r, _ := newTestReactor(t, WithLogger(newBufferLogger(&buf, logiface.LevelTrace)), WithMetrics(true))
	var after bool
	_, _ = r.AddSystemEventTrigger(PhaseDuring, "custom", func() { panic("trigger boom") })
	_, _ = r.AddSystemEventTrigger(PhaseAfter, "custom", func() { after = true })

	r.FireSystemEvent("custom")
	assert.True(t, after)
	assert.Contains(t, buf.String(), "trigger boom")
	assert.EqualValues(t, 1, r.Metrics().Panics)
}

func TestSystemEvent_shutdownDisconnectsAll(t *testing.T) {
	r, _ := newTestReactor(t)
	a := newFake("a", 10)
	require.NoError(t, r.AddReader(a))
	var order []string
	_, _ = r.AddSystemEventTrigger(PhaseBefore, EventShutdown, func() {
		order = append(order, "before")
		assert.Len(t, r.GetReaders(), 1)
	})
	_, _ = r.AddSystemEventTrigger(PhaseDuring, EventShutdown, func() {
		order = append(order, "during")
		assert.Empty(t, r.GetReaders())
	})

	r.FireSystemEvent(EventShutdown)
	assert.Equal(t, []string{"before", "during"}, order)
	require.Len(t, a.lost, 1)
	assert.ErrorIs(t, a.lost[0], ErrConnectionLost)
	// fired by hand, so the reactor is not stopping
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, r.exitLoop.Load())
}

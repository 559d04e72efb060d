package reactor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_readThenWrite(t *testing.T) {
	r, _ := newTestReactor(t)
	a := newFake("a", 20)
	require.NoError(t, r.AddReader(a))
	require.NoError(t, r.AddWriter(a))

	r.dispatch(readyEvent{fd: 20, events: EventRead | EventWrite})
	assert.Equal(t, 1, a.reads)
	assert.Equal(t, 1, a.writes)
	assert.Empty(t, a.lost)
}

func TestDispatch_readRemovesWriter(t *testing.T) {
	r, _ := newTestReactor(t)
	a := newFake("a", 20)
	a.onRead = func() error {
		r.RemoveWriter(a)
		return nil
	}
	require.NoError(t, r.AddReader(a))
	require.NoError(t, r.AddWriter(a))

	r.dispatch(readyEvent{fd: 20, events: EventRead | EventWrite})
	assert.Equal(t, 1, a.reads)
	assert.Zero(t, a.writes)
}

func TestDispatch_readError(t *testing.T) {
	r, _ := newTestReactor(t)
	a := newFake("a", 20)
	a.onRead = func() error { return errTest }
	require.NoError(t, r.AddReader(a))
	require.NoError(t, r.AddWriter(a))

	r.dispatch(readyEvent{fd: 20, events: EventRead | EventWrite})
	assert.Zero(t, a.writes, "write skipped after a failed read")
	assert.Equal(t, []error{errTest}, a.lost)
	assert.Empty(t, r.GetReaders())
	assert.Empty(t, r.GetWriters())
}

func TestDispatch_hangupWithoutRead(t *testing.T) {
	r, _ := newTestReactor(t)
	rd := newFake("reader", 21)
	wr := newFake("writer", 22)
	require.NoError(t, r.AddReader(rd))
	require.NoError(t, r.AddWriter(wr))

	r.dispatch(readyEvent{fd: 21, events: EventHangup})
	r.dispatch(readyEvent{fd: 22, events: EventError})

	require.Len(t, rd.lost, 1)
	assert.ErrorIs(t, rd.lost[0], ErrConnectionDone)
	require.Len(t, wr.lost, 1)
	assert.ErrorIs(t, wr.lost[0], ErrConnectionLost)
	assert.Zero(t, rd.reads)
}

func TestDispatch_hangupWithReadStillReads(t *testing.T) {
	r, _ := newTestReactor(t)
	a := newFake("a", 20)
	require.NoError(t, r.AddReader(a))
	r.dispatch(readyEvent{fd: 20, events: EventRead | EventHangup})
	assert.Equal(t, 1, a.reads)
	assert.Empty(t, a.lost)
}

func TestDispatch_invalid(t *testing.T) {
	r, _ := newTestReactor(t)
	a := newFake("a", 20)
	require.NoError(t, r.AddReader(a))
	r.dispatch(readyEvent{fd: 20, events: EventInvalid})
	require.Len(t, a.lost, 1)
	assert.ErrorIs(t, a.lost[0], ErrConnectionLost)
}

func TestDispatch_filenoGone(t *testing.T) {
	r, _ := newTestReactor(t)
	a := newFake("a", 20)
	require.NoError(t, r.AddReader(a))
	a.fd = -1
	r.dispatch(readyEvent{fd: 20, events: EventRead})
	assert.Zero(t, a.reads)
	require.Len(t, a.lost, 1)
	assert.ErrorIs(t, a.lost[0], errDescriptorGone)
}

func TestDispatch_unregistered(t *testing.T) {
	r, _ := newTestReactor(t)
	// nothing registered, nothing happens
	r.dispatch(readyEvent{fd: 99, events: EventRead | EventWrite})
}

func TestDispatch_panicInHandler(t *testing.T) {
	r, _ := newTestReactor(t, WithMetrics(true))
	a := newFake("a", 20)
	a.onRead = func() error { panic(errTest) }
	require.NoError(t, r.AddReader(a))

	r.dispatch(readyEvent{fd: 20, events: EventRead})
	require.Len(t, a.lost, 1)
	assert.ErrorIs(t, a.lost[0], ErrConnectionLost)
	assert.ErrorIs(t, a.lost[0], errTest)
	var p PanicError
	assert.True(t, errors.As(a.lost[0], &p))

	m := r.Metrics()
	assert.EqualValues(t, 1, m.Panics)
	assert.EqualValues(t, 1, m.Disconnects)
}

func TestDispatch_halfClose(t *testing.T) {
	r, _ := newTestReactor(t)
	h := &halfCloser{fakeSelectable: newFake("h", 20)}
	h.onRead = func() error { return ErrConnectionDone }
	require.NoError(t, r.AddReader(h))
	require.NoError(t, r.AddWriter(h))

	r.dispatch(readyEvent{fd: 20, events: EventRead})
	assert.Equal(t, []error{ErrConnectionDone}, h.readLost)
	assert.Empty(t, h.lost)
	assert.Empty(t, r.GetReaders())
	assert.Equal(t, []WriteDescriptor{h}, r.GetWriters())
}

func TestDispatch_halfCloseLostOnError(t *testing.T) {
	r, _ := newTestReactor(t)
	h := &halfCloser{fakeSelectable: newFake("h", 20)}
	h.onRead = func() error { return errTest }
	require.NoError(t, r.AddReader(h))

	r.dispatch(readyEvent{fd: 20, events: EventRead})
	assert.Empty(t, h.readLost)
	assert.Equal(t, []error{errTest}, h.lost)
}

//go:build unix

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPreen(t *testing.T) {
	r, d := newTestReactor(t, WithMetrics(true))
	a := newFake("a", 1<<20) // never open
	require.NoError(t, r.AddReader(a))

	d.waitErr = unix.EBADF
	r.doIteration(0)

	require.Len(t, a.lost, 1)
	assert.ErrorIs(t, a.lost[0], ErrConnectionLost)
	assert.Empty(t, r.GetReaders())
	assert.EqualValues(t, 1, r.Metrics().Preens)
}

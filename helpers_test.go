package reactor

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

type demuxUpdate struct {
	fd       int
	old, new Interest
}

// fakeDemux records updates, and serves queued events from wait.
type fakeDemux struct {
	failNext error
	updates  []demuxUpdate
	events   [][]readyEvent
	waitErr  error
	mu       sync.Mutex
}

func (d *fakeDemux) backend() Backend { return BackendSelect }

func (d *fakeDemux) update(fd int, old, new Interest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failNext; err != nil {
		d.failNext = nil
		return err
	}
	d.updates = append(d.updates, demuxUpdate{fd: fd, old: old, new: new})
	return nil
}

func (d *fakeDemux) wait(_ time.Duration, buf []readyEvent) ([]readyEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.waitErr; err != nil {
		d.waitErr = nil
		return buf, err
	}
	if len(d.events) == 0 {
		return buf, nil
	}
	buf = append(buf, d.events[0]...)
	d.events = d.events[1:]
	return buf, nil
}

func (d *fakeDemux) maxWait() time.Duration { return time.Hour }

func (d *fakeDemux) close() error { return nil }

func (d *fakeDemux) takeUpdates() []demuxUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.updates
	d.updates = nil
	return out
}

// fakeSelectable is a reader and writer whose handlers are swappable.
type fakeSelectable struct {
	onRead  func() error
	onWrite func() error
	lost    []error
	name    string
	fd      int
	reads   int
	writes  int
}

func newFake(name string, fd int) *fakeSelectable {
	return &fakeSelectable{name: name, fd: fd}
}

func (f *fakeSelectable) Fileno() int { return f.fd }

func (f *fakeSelectable) DoRead() error {
	f.reads++
	if f.onRead != nil {
		return f.onRead()
	}
	return nil
}

func (f *fakeSelectable) DoWrite() error {
	f.writes++
	if f.onWrite != nil {
		return f.onWrite()
	}
	return nil
}

func (f *fakeSelectable) ConnectionLost(reason error) {
	f.lost = append(f.lost, reason)
}

// halfCloser additionally records ReadConnectionLost.
type halfCloser struct {
	*fakeSelectable
	readLost []error
}

func (h *halfCloser) ReadConnectionLost(reason error) {
	h.readLost = append(h.readLost, reason)
}

// newTestReactor returns an idle reactor whose demultiplexer is replaced by
// a fakeDemux, so dispatch may be driven directly.
func newTestReactor(t *testing.T, opts ...Option) (*Reactor, *fakeDemux) {
	t.Helper()
	r, err := New(append([]Option{WithSignalHandlers(false)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	if err := r.demux.close(); err != nil {
		t.Fatal(err)
	}
	d := &fakeDemux{}
	r.demux = d
	r.reg.demux = d
	return r, d
}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// newBufferLogger returns a JSON logger writing to buf.
func newBufferLogger(buf *syncBuffer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(level),
	).Logger()
}

var errTest = errors.New("test error")

package reactor

import (
	"slices"
	"sync"
)

// registry is the reactor's read set and write set, keyed by descriptor.
// Every change is mirrored to the demultiplexer before it becomes visible.
//
// Selectables are compared by identity, so implementations must be
// comparable (in practice, pointers).
type registry struct {
	demux   demultiplexer
	readers map[int]ReadDescriptor
	writers map[int]WriteDescriptor
	// waker is registered for reading, but hidden from callers
	waker ReadDescriptor
	mu    sync.Mutex
}

func newRegistry(d demultiplexer) *registry {
	return &registry{
		demux:   d,
		readers: make(map[int]ReadDescriptor),
		writers: make(map[int]WriteDescriptor),
	}
}

// interestOf must be called with mu held.
func (g *registry) interestOf(fd int) (i Interest) {
	if _, ok := g.readers[fd]; ok {
		i |= InterestRead
	}
	if _, ok := g.writers[fd]; ok {
		i |= InterestWrite
	}
	return i
}

// setWaker registers w without validating its descriptor, which may be a
// pseudo-descriptor on some platforms.
func (g *registry) setWaker(w ReadDescriptor) error {
	if err := g.insertReader(w.Fileno(), w); err != nil {
		return err
	}
	g.mu.Lock()
	g.waker = w
	g.mu.Unlock()
	return nil
}

func (g *registry) addReader(r ReadDescriptor) error {
	fd := r.Fileno()
	if fd < 0 {
		return ErrBadDescriptor
	}
	return g.insertReader(fd, r)
}

func (g *registry) insertReader(fd int, r ReadDescriptor) error {
	g.mu.Lock()
	if existing, ok := g.readers[fd]; ok && existing == r {
		g.mu.Unlock()
		return nil
	}
	prev, hadPrev := g.readers[fd]
	old := g.interestOf(fd)
	g.readers[fd] = r
	if err := g.sync(fd, old); err != nil {
		if hadPrev {
			g.readers[fd] = prev
		} else {
			delete(g.readers, fd)
		}
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()
	return nil
}

func (g *registry) addWriter(w WriteDescriptor) error {
	fd := w.Fileno()
	if fd < 0 {
		return ErrBadDescriptor
	}

	g.mu.Lock()
	if existing, ok := g.writers[fd]; ok && existing == w {
		g.mu.Unlock()
		return nil
	}
	prev, hadPrev := g.writers[fd]
	old := g.interestOf(fd)
	g.writers[fd] = w
	if err := g.sync(fd, old); err != nil {
		if hadPrev {
			g.writers[fd] = prev
		} else {
			delete(g.writers, fd)
		}
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()
	return nil
}

// removeReader reports whether r was registered. The lookup falls back to
// an identity search, as r may already have closed its descriptor.
func (g *registry) removeReader(r ReadDescriptor) bool {
	g.mu.Lock()
	fd, ok := findByIdentity(g.readers, r, r.Fileno())
	if !ok {
		g.mu.Unlock()
		return false
	}
	old := g.interestOf(fd)
	delete(g.readers, fd)
	_ = g.sync(fd, old)
	g.mu.Unlock()
	return true
}

func (g *registry) removeWriter(w WriteDescriptor) bool {
	g.mu.Lock()
	fd, ok := findByIdentity(g.writers, w, w.Fileno())
	if !ok {
		g.mu.Unlock()
		return false
	}
	old := g.interestOf(fd)
	delete(g.writers, fd)
	_ = g.sync(fd, old)
	g.mu.Unlock()
	return true
}

// removeSelectable drops s from both sets, wherever it appears.
func (g *registry) removeSelectable(s FileDescriptor) {
	if r, ok := s.(ReadDescriptor); ok {
		g.removeReader(r)
	}
	if w, ok := s.(WriteDescriptor); ok {
		g.removeWriter(w)
	}
}

// removeAll unregisters everything except the waker, returning each
// distinct selectable once, ordered by the descriptor it was registered
// under.
func (g *registry) removeAll() []FileDescriptor {
	g.mu.Lock()

	type entry struct {
		s  FileDescriptor
		fd int
	}
	var (
		entries []entry
		seen    = make(map[FileDescriptor]struct{})
		fds     = make(map[int]Interest)
	)
	collect := func(fd int, s FileDescriptor) {
		fds[fd] = g.interestOf(fd)
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		entries = append(entries, entry{s: s, fd: fd})
	}
	for fd, r := range g.readers {
		if g.waker != nil && r == g.waker {
			continue
		}
		collect(fd, r)
	}
	for fd, w := range g.writers {
		collect(fd, w)
	}

	for fd, old := range fds {
		if g.waker == nil || g.readers[fd] != g.waker {
			delete(g.readers, fd)
		}
		delete(g.writers, fd)
		_ = g.sync(fd, old)
	}
	g.mu.Unlock()

	slices.SortFunc(entries, func(a, b entry) int { return a.fd - b.fd })
	out := make([]FileDescriptor, len(entries))
	for i, e := range entries {
		out[i] = e.s
	}
	return out
}

func (g *registry) getReaders() []ReadDescriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	fds := make([]int, 0, len(g.readers))
	for fd, r := range g.readers {
		if g.waker != nil && r == g.waker {
			continue
		}
		fds = append(fds, fd)
	}
	slices.Sort(fds)
	out := make([]ReadDescriptor, len(fds))
	for i, fd := range fds {
		out[i] = g.readers[fd]
	}
	return out
}

func (g *registry) getWriters() []WriteDescriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	fds := make([]int, 0, len(g.writers))
	for fd := range g.writers {
		fds = append(fds, fd)
	}
	slices.Sort(fds)
	out := make([]WriteDescriptor, len(fds))
	for i, fd := range fds {
		out[i] = g.writers[fd]
	}
	return out
}

// lookup returns the selectables currently registered under fd.
func (g *registry) lookup(fd int) (ReadDescriptor, WriteDescriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readers[fd], g.writers[fd]
}

func (g *registry) isWaker(s FileDescriptor) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waker != nil && s == FileDescriptor(g.waker)
}

// descriptors returns every registered descriptor except the waker's, in
// ascending order.
func (g *registry) descriptors() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := make(map[int]struct{}, len(g.readers)+len(g.writers))
	for fd, r := range g.readers {
		if g.waker != nil && r == g.waker {
			continue
		}
		set[fd] = struct{}{}
	}
	for fd := range g.writers {
		set[fd] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for fd := range set {
		out = append(out, fd)
	}
	slices.Sort(out)
	return out
}

func (g *registry) len() (readers, writers int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	readers = len(g.readers)
	if g.waker != nil {
		readers--
	}
	return readers, len(g.writers)
}

// sync must be called with mu held, after the maps reflect the new state.
func (g *registry) sync(fd int, old Interest) error {
	if now := g.interestOf(fd); now != old {
		return g.demux.update(fd, old, now)
	}
	return nil
}

// findByIdentity locates s, trying hint first.
func findByIdentity[S comparable](m map[int]S, s S, hint int) (int, bool) {
	if v, ok := m[hint]; ok && v == s {
		return hint, true
	}
	for fd, v := range m {
		if v == s {
			return fd, true
		}
	}
	return 0, false
}

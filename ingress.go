package reactor

import (
	"sync"
)

// callChunkSize is the number of calls per node in a callQueue.
const callChunkSize = 128

// callQueue is a chunked linked-list FIFO of functions.
//
// It is NOT thread-safe. threadCalls provides the locking.
type callQueue struct { // betteralign:ignore
	head   *callChunk
	tail   *callChunk
	length int
}

var callChunkPool = sync.Pool{
	New: func() any {
		return &callChunk{}
	},
}

// callChunk is a fixed-size node, consumed via readPos and filled via pos.
type callChunk struct {
	calls   [callChunkSize]func()
	next    *callChunk
	readPos int
	pos     int
}

func newCallChunk() *callChunk {
	c := callChunkPool.Get().(*callChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// releaseCallChunk clears the slots, so pooled chunks retain no closures.
func releaseCallChunk(c *callChunk) {
	clear(c.calls[:c.pos])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	callChunkPool.Put(c)
}

func (q *callQueue) push(fn func()) {
	if q.tail == nil {
		q.tail = newCallChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.calls) {
		next := newCallChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.calls[q.tail.pos] = fn
	q.tail.pos++
	q.length++
}

func (q *callQueue) pop() (func(), bool) {
	if q.head == nil {
		return nil, false
	}
	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
			return nil, false
		}
		old := q.head
		q.head = q.head.next
		releaseCallChunk(old)
	}

	fn := q.head.calls[q.head.readPos]
	q.head.calls[q.head.readPos] = nil
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos && q.head == q.tail {
		q.head.pos = 0
		q.head.readPos = 0
	}
	return fn, true
}

// threadCalls is the hand-off queue behind CallFromThread.
type threadCalls struct {
	q  callQueue
	mu sync.Mutex
}

// push appends fn and returns the resulting length.
func (t *threadCalls) push(fn func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.q.push(fn)
	return t.q.length
}

func (t *threadCalls) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.length
}

// drain runs the calls that were queued when drain began, in order, and
// reports how many ran and how many remain. Calls pushed by the calls
// themselves are left for the next drain.
func (t *threadCalls) drain(run func(func())) (ran, remaining int) {
	t.mu.Lock()
	total := t.q.length
	t.mu.Unlock()

	for ran < total {
		t.mu.Lock()
		fn, ok := t.q.pop()
		t.mu.Unlock()
		if !ok {
			break
		}
		ran++
		run(fn)
	}
	return ran, t.len()
}

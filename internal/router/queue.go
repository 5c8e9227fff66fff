package router

import (
	"sync"
)

// Queue is a thread-safe FIFO backed by a ring that doubles its capacity
// when it reaches 70% occupancy. A Queue may be bounded, in which case
// pushing onto a full queue evicts the oldest item.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	limit    int // 0 = unbounded
	onEvict  func(T)
	closed   bool

	// Stats
	pushed      int64
	popped      int64
	evicted     int64
	resizeCount int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count       int
	Capacity    int
	Limit       int
	Pushed      int64
	Popped      int64
	Evicted     int64
	ResizeCount int
}

// NewQueue creates an unbounded queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	return NewBoundedQueue[T](initialCapacity, 0, nil)
}

// NewBoundedQueue creates a queue holding at most limit items (0 means
// unbounded). onEvict, if set, receives every item dropped to make room.
// onEvict runs with the queue lock held and must not call back into the
// queue.
func NewBoundedQueue[T any](initialCapacity, limit int, onEvict func(T)) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit < 0 {
		limit = 0
	}
	q := &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		limit:    limit,
		onEvict:  onEvict,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.ensureRoom(1)
	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.pushed++
	q.enforceLimit()

	q.cond.Signal()
	return true
}

// Prepend puts items back at the head of the queue, preserving their
// order: items[0] becomes the next item received. Used to requeue work
// that was taken but could not be completed.
func (q *Queue[T]) Prepend(items ...T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if len(items) == 0 {
		return true
	}

	q.ensureRoom(len(items))
	q.head = (q.head - len(items)%q.capacity + q.capacity) % q.capacity
	for i, item := range items {
		q.buf[(q.head+i)%q.capacity] = item
	}
	q.count += len(items)
	q.pushed += int64(len(items))
	q.enforceLimit()

	q.cond.Broadcast()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available or the queue is closed. Returns false once closed and empty.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// DrainTo removes up to max items (all of them if max <= 0) in FIFO order.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = q.pop()
	}
	return result
}

// Close closes the queue. Pushes fail afterwards; receivers get the
// remaining items and then the closed signal.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current number of items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:       q.count,
		Capacity:    q.capacity,
		Limit:       q.limit,
		Pushed:      q.pushed,
		Popped:      q.popped,
		Evicted:     q.evicted,
		ResizeCount: q.resizeCount,
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (q *Queue[T]) pop() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.popped++
	return item
}

// enforceLimit evicts from the head until the queue fits its limit.
func (q *Queue[T]) enforceLimit() {
	for q.limit > 0 && q.count > q.limit {
		item := q.pop()
		q.popped--
		q.evicted++
		if q.onEvict != nil {
			q.onEvict(item)
		}
	}
}

// ensureRoom grows the ring until n more items stay under 70% occupancy.
func (q *Queue[T]) ensureRoom(n int) {
	for {
		threshold := (q.capacity * 70) / 100
		if threshold < 1 {
			threshold = 1
		}
		if q.count+n < threshold {
			return
		}
		q.grow()
	}
}

// grow doubles the ring capacity. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizeCount++
}

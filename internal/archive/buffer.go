package archive

import "sync"

// Buffer is a thread-safe FIFO that doubles its capacity when full, so
// a slow database never backpressures the read pump.
type Buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	tail   int
	count  int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// BufferStats describes buffer activity.
type BufferStats struct {
	Pushed   int64
	Popped   int64
	Resizes  int
	Capacity int
	Depth    int
}

// NewBuffer creates a buffer with the given initial capacity.
func NewBuffer[T any](initialCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &Buffer[T]{ring: make([]T, initialCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an item, growing the ring when full. Returns false once
// the buffer is closed.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.count == len(b.ring) {
		b.grow()
	}

	b.ring[b.tail] = item
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.pushed++

	b.cond.Signal()
	return true
}

// Pop blocks until an item is available or the buffer is closed and
// drained, in which case it returns false.
func (b *Buffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 {
		var zero T
		return zero, false
	}

	return b.popLocked(), true
}

// TryPop returns immediately: the next item, or false when empty.
func (b *Buffer[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	return b.popLocked(), true
}

// Close stops accepting items. Buffered items remain poppable.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Len returns the current depth.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns a snapshot of buffer activity.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Pushed:   b.pushed,
		Popped:   b.popped,
		Resizes:  b.resizes,
		Capacity: len(b.ring),
		Depth:    b.count,
	}
}

func (b *Buffer[T]) popLocked() T {
	item := b.ring[b.head]
	var zero T
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.popped++
	return item
}

// grow doubles the ring, unrolling wrapped contents into the new slice.
func (b *Buffer[T]) grow() {
	bigger := make([]T, len(b.ring)*2)
	for i := 0; i < b.count; i++ {
		bigger[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.ring = bigger
	b.head = 0
	b.tail = b.count
	b.resizes++
}

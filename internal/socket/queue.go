package socket

import (
	"sync"
	"time"
)

// queuedMessage holds an outbound payload accepted while disconnected.
type queuedMessage struct {
	data       []byte
	enqueuedAt time.Time
}

// sendQueue is the FIFO holding outbound messages until the connection
// opens. A limit of 0 means unbounded; unbounded growth under sustained
// disconnection is the caller's risk to configure away.
type sendQueue struct {
	mu    sync.Mutex
	items []queuedMessage
	limit int
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{limit: limit}
}

// push appends a payload, refusing once the configured limit is reached.
func (q *sendQueue) push(data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}

	q.items = append(q.items, queuedMessage{data: data, enqueuedAt: time.Now()})
	return nil
}

// peek returns the head payload without removing it.
func (q *sendQueue) peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0].data, true
}

// pop removes the head entry.
func (q *sendQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// flush sends queued payloads in insertion order until the queue is
// empty or a send fails. The failed payload and everything behind it
// stay queued for the next successful connection.
func (q *sendQueue) flush(send func([]byte) error) (sent int, err error) {
	for {
		data, ok := q.peek()
		if !ok {
			return sent, nil
		}
		if err := send(data); err != nil {
			return sent, err
		}
		q.pop()
		sent++
	}
}

package relay

import "sync"

// DefaultQueueSize bounds the retry queue
const DefaultQueueSize = 100000

// retryQueue is a bounded FIFO of undelivered messages backed by a growable
// ring buffer. When full, pushBack evicts the oldest entry.
type retryQueue struct {
	mu    sync.Mutex
	buf   []Message
	head  int
	size  int
	limit int
}

func newRetryQueue(limit int) *retryQueue {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &retryQueue{limit: limit}
}

// pushBack appends msg. It reports whether the oldest entry had to be dropped.
func (q *retryQueue) pushBack(msg Message) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == q.limit {
		q.buf[q.head] = Message{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		dropped = true
	}
	q.grow()
	q.buf[(q.head+q.size)%len(q.buf)] = msg
	q.size++
	return dropped
}

// pushFront returns msg to the head of the queue. It reports false, leaving
// the queue untouched, when the queue is full; msg is then the oldest entry
// and is the one dropped.
func (q *retryQueue) pushFront(msg Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == q.limit {
		return false
	}
	q.grow()
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = msg
	q.size++
	return true
}

// popFront removes and returns the oldest entry
func (q *retryQueue) popFront() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return Message{}, false
	}
	msg := q.buf[q.head]
	q.buf[q.head] = Message{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return msg, true
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// grow makes room for one more entry. Callers hold mu and have checked size < limit.
func (q *retryQueue) grow() {
	if q.size < len(q.buf) {
		return
	}
	newCap := min(max(16, 2*len(q.buf)), q.limit)
	buf := make([]Message, newCap)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

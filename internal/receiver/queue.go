package receiver

import (
	"sync"
	"time"
)

// queuedLine is one pending write. pause, when non-zero, replaces the
// configured write interval after this line.
type queuedLine struct {
	line  string
	pause time.Duration
}

// writeQueue is the pending write FIFO. Any goroutine may push; only the
// connection's writer pops. A push of several lines is appended as one
// contiguous block.
type writeQueue struct {
	mu    sync.Mutex
	items []queuedLine
	limit int

	// ready holds at most one wakeup for the writer.
	ready chan struct{}
}

func newWriteQueue(limit int) *writeQueue {
	return &writeQueue{limit: limit, ready: make(chan struct{}, 1)}
}

func (q *writeQueue) push(pause time.Duration, lines ...string) error {
	q.mu.Lock()
	if q.limit > 0 && len(q.items)+len(lines) > q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	for _, l := range lines {
		q.items = append(q.items, queuedLine{line: l, pause: pause})
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (q *writeQueue) pop() (queuedLine, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedLine{}, false
	}
	item := q.items[0]
	q.items[0] = queuedLine{}
	q.items = q.items[1:]
	return item, true
}

func (q *writeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

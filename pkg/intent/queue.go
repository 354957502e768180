package intent

import "sync"

// Queue is a FIFO of pending intents. Any goroutine may Push; the control
// loop drains it once per frame.
type Queue struct {
	mu      sync.Mutex
	intents []Intent
	closed  bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{intents: make([]Intent, 0, 64)}
}

// Push appends an intent. It returns false once the queue is closed.
func (q *Queue) Push(i Intent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.intents = append(q.intents, i)
	return true
}

// Pop removes the oldest intent.
func (q *Queue) Pop() (Intent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.intents) == 0 {
		return Intent{}, false
	}
	i := q.intents[0]
	// Drop the slot's references so the backing array does not pin payloads
	// and reply channels.
	q.intents[0] = Intent{}
	if len(q.intents) == 1 {
		q.intents = q.intents[:0]
	} else {
		q.intents = q.intents[1:]
	}
	return i, true
}

// Len returns the number of pending intents.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.intents)
}

// Close refuses further pushes and discards pending intents, returning
// them so their submitters can be told.
func (q *Queue) Close() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	pending := q.intents
	q.intents = nil
	return pending
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

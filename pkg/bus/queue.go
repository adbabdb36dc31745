package bus

import (
	"sync"

	"github.com/aretw0/tally/pkg/core"
)

// eventQueue is an unbounded, thread-safe FIFO.
//
// Producers enqueue from any goroutine; the dispatch worker is the only consumer.
// A size-1 signal channel coalesces wake-ups so the consumer can select on it
// together with its context and poll ticker.
type eventQueue struct {
	mu     sync.Mutex
	events []core.Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]core.Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e core.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (core.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return core.Event{}, false
	}

	e := q.events[0]
	// Clear the slot so the payload can be collected.
	q.events[0] = core.Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that is signalled when events may be available.
// It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and wakes the consumer. Pending events stay
// queued so they can still be drained.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drained reports whether the queue is closed and empty.
func (q *eventQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Discard drops every pending event and returns how many were dropped.
func (q *eventQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	q.events = nil
	return n
}

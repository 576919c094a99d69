package engine

import (
	"fmt"
	"sync"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventReload re-reads one definition file.
	EventReload EventType = iota + 1
	// EventReloadAll re-reads the whole definitions root.
	EventReloadAll
	// EventEvaluate rebuilds and publishes the snapshot.
	EventEvaluate
)

func (t EventType) String() string {
	switch t {
	case EventReload:
		return "reload"
	case EventReloadAll:
		return "reload_all"
	case EventEvaluate:
		return "evaluate"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one unit of management work.
type Event struct {
	Type  EventType
	Path  string // EventReload only
	Token string // correlation token, assigned by Enqueue when empty
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking; the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available. The
// channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drained reports whether the queue is closed and empty.
func (q *eventQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close signals that no more events will be enqueued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

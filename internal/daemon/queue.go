package daemon

import (
	"sync"
	"time"
)

// changeQueue is the unbounded FIFO between the fsnotify callback and the
// drain loop. push never blocks.
//
// latest maps each path to the sequence number of its newest event. It is
// written in push, before the drain loop can see the event, so the loop's
// "is this still the newest event" check never races the producer.
type changeQueue struct {
	mu     sync.Mutex
	items  []Event
	latest map[string]uint64
	seq    uint64
	// signal has capacity 1: a pending wake-up is enough for any number of
	// pushes.
	signal chan struct{}
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		latest: make(map[string]uint64),
		signal: make(chan struct{}, 1),
	}
}

// push stamps e, records it as the newest event of its path and enqueues it.
func (q *changeQueue) push(e Event) Event {
	q.mu.Lock()
	q.seq++
	e.seq = q.seq
	q.latest[e.Path] = e.seq
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return e
}

// pop removes the oldest event.
func (q *changeQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return e, true
}

// claim reports whether e is still the newest event of its path. The
// newest event also clears the path's entry so the map does not grow.
func (q *changeQueue) claim(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.latest[e.Path] != e.seq {
		return false
	}
	delete(q.latest, e.Path)
	return true
}

// Len returns the number of queued events.
func (q *changeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// due returns when the debounce window of e ends.
func due(e Event, window time.Duration) time.Time {
	return e.At.Add(window)
}

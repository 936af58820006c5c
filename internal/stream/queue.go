package stream

import (
	"context"
	"sync"
	"time"
)

/*
EVENT QUEUE

Queue is the channel between one prompt worker (producer) and one consumer.

    worker ──Push──> [ e0 e1 e2 ... ] ──Next──> consumer
                     └─ unbounded, FIFO

- Push never blocks, so an engine callback can never stall on a slow
  consumer. Events keep a monotonically increasing Index in push order.
- Next blocks only while the queue is empty and open.
- Close(err) is idempotent; the first reason wins. Events pushed before
  Close stay readable, Push after Close fails with ErrClosed.
- Abandon is the consumer-side close: pending events are discarded and
  nothing more is delivered.
*/

// QueueStats contains statistics about a queue
type QueueStats struct {
	Pending   int   `json:"pending"`
	Pushed    int   `json:"pushed"`
	Delivered int   `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Closed    bool  `json:"closed"`
}

// Queue is an unbounded order-preserving event queue.
type Queue struct {
	mu        sync.Mutex
	events    []Event
	nextIndex int
	delivered int
	dropped   int64
	closed    bool
	err       error
	signal    chan struct{}
	done      chan struct{}
}

// NewQueue creates an open, empty queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends e and returns its index.
func (q *Queue) Push(e Event) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.dropped++
		q.mu.Unlock()
		return -1, ErrClosed
	}
	e.Index = q.nextIndex
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	q.nextIndex++
	q.events = append(q.events, e)
	q.mu.Unlock()

	q.notify()
	return e.Index, nil
}

// Close marks the queue closed with reason err. Only the first call has an
// effect; it reports whether this call closed the queue.
func (q *Queue) Close(err error) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.closed = true
	q.err = err
	q.mu.Unlock()

	close(q.done)
	return true
}

// Abandon closes the queue with ErrCancelled and drops anything not yet read.
func (q *Queue) Abandon() bool {
	q.mu.Lock()
	if q.closed {
		q.events = nil
		q.mu.Unlock()
		return false
	}
	q.closed = true
	q.err = ErrCancelled
	q.dropped += int64(len(q.events))
	q.events = nil
	q.mu.Unlock()

	close(q.done)
	return true
}

// Next returns the oldest unread event. ok is false once the queue is closed
// and drained. It fails only if ctx ends first.
func (q *Queue) Next(ctx context.Context) (e Event, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			e = q.events[0]
			q.events[0] = Event{}
			q.events = q.events[1:]
			q.delivered++
			q.mu.Unlock()
			return e, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Event{}, false, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.done:
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		}
	}
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Err returns the close reason, nil while open or after a clean close.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Closed reports whether Close or Abandon has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of unread events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Stats returns current queue statistics
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending:   len(q.events),
		Pushed:    q.nextIndex,
		Delivered: q.delivered,
		Dropped:   q.dropped,
		Closed:    q.closed,
	}
}

package server

import (
	"context"
	"errors"
	"sync"

	"github.com/Tyrowin/syncchat/internal/protocol"
)

// ErrQueueClosed is returned when an event is pushed after the queue closed,
// or popped once it is closed and drained.
var ErrQueueClosed = errors.New("event queue closed")

// inboundEvent is an event tagged with the connection that produced it.
type inboundEvent struct {
	client *Client
	event  protocol.Event
}

// eventQueue is an unbounded multi-producer, single-consumer FIFO. Producers
// never block; the consumer blocks in pop until an item arrives.
type eventQueue struct {
	mu     sync.Mutex
	items  []inboundEvent
	signal chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev inboundEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, ev)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *eventQueue) pop(ctx context.Context) (inboundEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = inboundEvent{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return inboundEvent{}, ErrQueueClosed
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return inboundEvent{}, ctx.Err()
		}
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close stops accepting pushes. Items already queued can still be popped.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

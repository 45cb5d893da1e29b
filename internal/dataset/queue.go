package dataset

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Queue is a single-producer, single-consumer, bounded FIFO with
// drop-oldest overflow semantics: once full, Enqueue discards everything
// currently queued before appending the new item, since a payload is a
// snapshot of the latest state and stale snapshots are worthless to a
// sink that has fallen behind.
//
// Grounded on the condvar-guarded queue in docker/distribution's
// notifications.eventQueue, adapted from unbounded to bounded
// drop-oldest, with a notify channel (rather than sync.Cond, which has
// no timed wait) so Dequeue can honor a deadline.
type Queue struct {
	mu     sync.Mutex
	items  *list.List
	cap    int
	notify chan struct{}
	closed bool

	onIngress func()
	onEgress  func()
	onDrop    func()
}

// NewQueue returns an empty queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items:  list.New(),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// SetListeners wires optional ingress/egress/drop callbacks, used by
// internal/metrics to track queue depth and drop counts. Must be called
// before the queue is shared across goroutines.
func (q *Queue) SetListeners(onIngress, onEgress, onDrop func()) {
	q.onIngress = onIngress
	q.onEgress = onEgress
	q.onDrop = onDrop
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue appends item, discarding all currently queued items first if
// the queue is already at capacity. A no-op once the queue is closed.
func (q *Queue) Enqueue(item []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	dropped := false
	if q.items.Len() >= q.cap {
		q.items.Init()
		dropped = true
	}
	q.items.PushBack(item)
	q.mu.Unlock()

	if dropped && q.onDrop != nil {
		q.onDrop()
	}
	if q.onIngress != nil {
		q.onIngress()
	}
	q.signal()
}

// Dequeue blocks up to timeout for an item, returning ok=false if the
// deadline or ctx is done, or if the queue has been closed in the
// meantime with nothing left to drain.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (item []byte, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if front := q.items.Front(); front != nil {
			q.items.Remove(front)
			q.mu.Unlock()
			if q.onEgress != nil {
				q.onEgress()
			}
			return front.Value.([]byte), true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.notify:
			continue
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close marks the queue closed and wakes any blocked Dequeue. Further
// Enqueue calls are ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len reports the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

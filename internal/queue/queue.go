// Package queue implements the bounded work queue conversations pass
// through between ingestion and the analysis worker: a non-blocking,
// capacity-checked FIFO so the Ingest API can reject or flag backpressure
// before ever touching a channel send.
package queue

import (
	"sync/atomic"
	"time"
)

// Queue is a bounded FIFO of conversation ids awaiting analysis. Depth is
// tracked separately from the channel's internal buffer so CanAccept and
// Depth never race with a concurrent Dequeue draining the last item.
type Queue struct {
	items chan string
	depth int64
	cap   int
}

// New creates a queue with the given maximum depth.
func New(maxDepth int) *Queue {
	return &Queue{
		items: make(chan string, maxDepth),
		cap:   maxDepth,
	}
}

// CanAccept reports whether the queue has room for at least one more item.
func (q *Queue) CanAccept() bool {
	return int(atomic.LoadInt64(&q.depth)) < q.cap
}

// Enqueue appends id to the queue. It never blocks: if the queue is full it
// returns false immediately, mirroring the Python implementation's
// put_nowait/QueueFull handling.
func (q *Queue) Enqueue(id string) bool {
	select {
	case q.items <- id:
		atomic.AddInt64(&q.depth, 1)
		return true
	default:
		return false
	}
}

// EnqueueMany tries to enqueue each id in order; an id that does not fit is
// rejected and the ids after it are still tried. It returns the ids that
// were accepted and the ids that were rejected.
func (q *Queue) EnqueueMany(ids []string) (accepted, rejected []string) {
	for _, id := range ids {
		if q.Enqueue(id) {
			accepted = append(accepted, id)
		} else {
			rejected = append(rejected, id)
		}
	}
	return accepted, rejected
}

// Dequeue blocks up to timeout waiting for an item, returning ok=false on
// timeout, matching the Python worker's poll-then-continue loop.
func (q *Queue) Dequeue(timeout time.Duration) (string, bool) {
	select {
	case id := <-q.items:
		atomic.AddInt64(&q.depth, -1)
		return id, true
	case <-time.After(timeout):
		return "", false
	}
}

// Depth returns the current number of queued items.
func (q *Queue) Depth() int {
	return int(atomic.LoadInt64(&q.depth))
}

// Cap returns the configured maximum depth.
func (q *Queue) Cap() int {
	return q.cap
}

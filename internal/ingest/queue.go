package ingest

import (
	"sync"
	"sync/atomic"

	"github.com/goodtune/scrollcap/internal/metrics"
)

// DefaultQueueCapacity bounds the deltas waiting for the drain worker.
const DefaultQueueCapacity = 50

// Queue is a bounded FIFO of scroll deltas that never blocks the producer.
// When full, the oldest delta is discarded to make room for the newest.
type Queue struct {
	ch chan Delta

	// pushMu serializes producers so the drop-then-send pair stays ordered.
	// The consumer never takes it.
	pushMu  sync.Mutex
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity deltas.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Delta, capacity)}
}

// Push enqueues d and reports whether an older delta was discarded.
func (q *Queue) Push(d Delta) bool {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	dropped := false
	for {
		select {
		case q.ch <- d:
			metrics.QueueDepth.Set(float64(len(q.ch)))
			return dropped
		default:
		}

		// Full: discard the head. The consumer may have drained it first,
		// in which case the next send succeeds.
		select {
		case <-q.ch:
			dropped = true
			q.dropped.Add(1)
			metrics.QueueDropped.Inc()
		default:
		}
	}
}

// C exposes the receive side for consumers that select over several sources.
func (q *Queue) C() <-chan Delta {
	return q.ch
}

// Len returns the number of buffered deltas.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns how many deltas overflow has discarded so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

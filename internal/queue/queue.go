package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/labwatch/labwatch/pkg/telemetry"
)

// Sentinel errors returned by Enqueue and Dequeue.
var (
	// ErrOverflow is returned by Enqueue when the queue is full. The caller
	// decides whether to drop or retry; the queue never blocks producers.
	ErrOverflow = errors.New("queue: overflow")

	// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
	// queue is closed and drained.
	ErrClosed = errors.New("queue: closed")
)

// Queue is a bounded buffer of samples for a single device.
//
// Enqueue is safe for concurrent producers. Dequeue is intended for the one
// worker that owns the device's pipeline; samples come out with non-decreasing
// timestamps unless flagged Late, which marks the arrivals that could not be
// resequenced.
type Queue struct {
	mu        sync.Mutex
	notEmpty  *sync.Cond
	buf       []telemetry.Sample
	capacity  int
	lateness  time.Duration
	closed    bool
	delivered time.Time // timestamp high-water mark of dequeued samples
	newest    time.Time // timestamp high-water mark of all accepted samples
}

// New creates a Queue with the given capacity and lateness window.
func New(capacity int, lateness time.Duration) *Queue {
	q := &Queue{
		buf:      make([]telemetry.Sample, 0, capacity),
		capacity: capacity,
		lateness: lateness,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a sample. It fails with ErrOverflow when the queue is full and
// ErrClosed after Close. A sample is flagged Late when it arrives behind the
// delivered high-water mark (a newer sample already went out, so no buffering
// can restore order) or more than the lateness window behind the newest
// accepted sample. Late or not, samples are buffered in timestamp order, so
// everything the worker dequeues unflagged has a non-decreasing timestamp.
func (q *Queue) Enqueue(s telemetry.Sample) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.buf) >= q.capacity {
		return ErrOverflow
	}

	if s.Timestamp.Before(q.delivered) || q.newest.Sub(s.Timestamp) > q.lateness {
		s.Late = true
	}
	q.insertSorted(s)
	if s.Timestamp.After(q.newest) {
		q.newest = s.Timestamp
	}

	q.notEmpty.Signal()
	return nil
}

// insertSorted places s by timestamp, scanning from the tail. Equal
// timestamps keep arrival order. Late samples carry old timestamps, so they
// sort toward the head and drain ahead of fresher input.
func (q *Queue) insertSorted(s telemetry.Sample) {
	i := len(q.buf)
	for i > 0 && q.buf[i-1].Timestamp.After(s.Timestamp) {
		i--
	}
	q.buf = append(q.buf, telemetry.Sample{})
	copy(q.buf[i+1:], q.buf[i:])
	q.buf[i] = s
}

// Dequeue blocks until a sample is available or the queue is closed and
// drained, in which case it returns ErrClosed. Buffered samples remain
// deliverable after Close so the owning worker can drain in-flight input.
func (q *Queue) Dequeue() (telemetry.Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.buf) == 0 {
		return telemetry.Sample{}, ErrClosed
	}

	s := q.buf[0]
	q.buf = q.buf[1:]
	if s.Timestamp.After(q.delivered) {
		q.delivered = s.Timestamp
	}
	return s, nil
}

// Close stops the queue accepting new samples and wakes any blocked Dequeue.
// Already-buffered samples can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Len returns the number of buffered samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

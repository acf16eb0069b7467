package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTerminated      = errors.New("queue is terminated")
	ErrInvalidCapacity = errors.New("queue capacity must be positive")
)

// Status reports the outcome of a timed pop
type Status int

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusTerminated
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// AsyncQueue is a bounded multi-producer/multi-consumer FIFO
type AsyncQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []T
	head     int
	count    int
	capacity int

	terminated bool

	pushed  atomic.Int64
	popped  atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
}

// New creates a queue holding at most capacity items
func New[T any](capacity int) (*AsyncQueue[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	q := &AsyncQueue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q, nil
}

// MustNew is New for capacities fixed at compile time
func MustNew[T any](capacity int) *AsyncQueue[T] {
	q, err := New[T](capacity)
	if err != nil {
		panic(err)
	}
	return q
}

// Push appends item, blocking while the queue is full.
// It fails with ErrTerminated if the queue is or becomes terminated while waiting.
func (q *AsyncQueue[T]) Push(item T) error {
	q.mu.Lock()
	for q.count == q.capacity && !q.terminated {
		q.notFull.Wait()
	}
	if q.terminated {
		q.mu.Unlock()
		return ErrTerminated
	}

	q.items[(q.head+q.count)%q.capacity] = item
	q.count++
	q.record(q.count)
	q.pushed.Add(1)
	q.mu.Unlock()

	q.notEmpty.Signal()
	return nil
}

// Pop removes the oldest item, blocking while the queue is empty.
// Buffered items are still returned after Terminate; ok is false once none remain.
func (q *AsyncQueue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	for q.count == 0 && !q.terminated {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		q.mu.Unlock()
		return item, false
	}
	item = q.take()
	q.mu.Unlock()

	q.notFull.Signal()
	return item, true
}

// PopTimeout behaves like Pop but gives up after timeout
func (q *AsyncQueue[T]) PopTimeout(timeout time.Duration) (item T, status Status) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	for q.count == 0 && !q.terminated {
		if !time.Now().Before(deadline) {
			q.mu.Unlock()
			return item, StatusTimeout
		}
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		q.mu.Unlock()
		return item, StatusTerminated
	}
	item = q.take()
	q.mu.Unlock()

	q.notFull.Signal()
	return item, StatusSuccess
}

// take removes the head item; q.mu must be held and count > 0
func (q *AsyncQueue[T]) take() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.size.Store(int64(q.count))
	q.popped.Add(1)
	return item
}

func (q *AsyncQueue[T]) record(n int) {
	q.size.Store(int64(n))
	for {
		cur := q.maxSize.Load()
		if int64(n) <= cur || q.maxSize.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// Terminate stops accepting input and wakes every blocked caller. Idempotent.
func (q *AsyncQueue[T]) Terminate() {
	q.mu.Lock()
	q.terminated = true
	q.mu.Unlock()

	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Restart reopens a terminated queue. Buffered items are kept.
func (q *AsyncQueue[T]) Restart() {
	q.mu.Lock()
	q.terminated = false
	q.mu.Unlock()
}

// IsTerminated reports whether Terminate has been called since the last Restart
func (q *AsyncQueue[T]) IsTerminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminated
}

// Len returns the number of buffered items
func (q *AsyncQueue[T]) Len() int {
	return int(q.size.Load())
}

// Capacity returns the maximum number of buffered items
func (q *AsyncQueue[T]) Capacity() int {
	return q.capacity
}

// Stats returns a lock-free snapshot of the queue counters
func (q *AsyncQueue[T]) Stats() map[string]float64 {
	return map[string]float64{
		"queue_size":     float64(q.size.Load()),
		"max_queue_size": float64(q.maxSize.Load()),
		"items_pushed":   float64(q.pushed.Load()),
		"items_popped":   float64(q.popped.Load()),
	}
}

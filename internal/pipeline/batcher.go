package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/readpipe/internal/pipeline/queue"
)

// DefaultBatchTimeout bounds how long a partial batch waits for more items.
const DefaultBatchTimeout = 100 * time.Millisecond

// Batcher collects items from many node workers into batches run by
// dedicated goroutines, each bound to a device. A batch is run when it is
// full, when the queue has been idle for the timeout, or when the batcher
// stops. Every pushed item reaches run exactly once.
type Batcher[T any] struct {
	q       *queue.AsyncQueue[T]
	size    int
	timeout time.Duration
	run     func(device int, batch []T)

	wg      sync.WaitGroup
	batches atomic.Int64
	items   atomic.Int64
}

// NewBatcher returns a stopped batcher. The queue holds at most capacity
// items; run owns each batch slice it is given.
func NewBatcher[T any](capacity, size int, timeout time.Duration, run func(device int, batch []T)) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	return &Batcher[T]{
		q:       queue.MustNew[T](max(capacity, 1)),
		size:    size,
		timeout: timeout,
		run:     run,
	}
}

// Start reopens the queue and spawns one worker per entry of devices.
// A device listed twice gets two workers.
func (b *Batcher[T]) Start(devices []int) {
	b.q.Restart()
	for _, d := range devices {
		b.wg.Add(1)
		go b.work(d)
	}
}

// Push blocks while the queue is full
func (b *Batcher[T]) Push(item T) error {
	return b.q.Push(item)
}

// Stop closes the queue, lets the workers run what is left and joins them
func (b *Batcher[T]) Stop() {
	b.q.Terminate()
	b.wg.Wait()
}

func (b *Batcher[T]) work(device int) {
	defer b.wg.Done()
	batch := make([]T, 0, b.size)
	for {
		item, status := b.q.PopTimeout(b.timeout)
		switch status {
		case queue.StatusSuccess:
			batch = append(batch, item)
			if len(batch) < b.size {
				continue
			}
		case queue.StatusTimeout:
			if len(batch) == 0 {
				continue
			}
		case queue.StatusTerminated:
			if len(batch) > 0 {
				b.flush(device, batch)
			}
			return
		}
		b.flush(device, batch)
		batch = make([]T, 0, b.size)
	}
}

func (b *Batcher[T]) flush(device int, batch []T) {
	b.batches.Add(1)
	b.items.Add(int64(len(batch)))
	b.run(device, batch)
}

// Stats writes batch counts and queue levels into into, keys prefixed
func (b *Batcher[T]) Stats(prefix string, into map[string]float64) {
	into[prefix+"batches"] = float64(b.batches.Load())
	if n := b.batches.Load(); n > 0 {
		into[prefix+"mean_batch_size"] = float64(b.items.Load()) / float64(n)
	}
	for k, v := range b.q.Stats() {
		into[prefix+k] = v
	}
}

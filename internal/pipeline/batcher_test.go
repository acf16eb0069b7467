package pipeline

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchLog records every batch a Batcher runs
type batchLog struct {
	mu      sync.Mutex
	sizes   []int
	items   []int
	devices map[int]int
}

func (l *batchLog) run(device int, batch []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.devices == nil {
		l.devices = make(map[int]int)
	}
	l.sizes = append(l.sizes, len(batch))
	l.items = append(l.items, batch...)
	l.devices[device]++
}

func (l *batchLog) snapshot() ([]int, []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.sizes...), append([]int(nil), l.items...)
}

func TestBatcherRunsFullBatches(t *testing.T) {
	log := &batchLog{}
	b := NewBatcher(16, 4, time.Hour, log.run)
	b.Start([]int{0})
	for i := 0; i < 8; i++ {
		require.NoError(t, b.Push(i))
	}
	b.Stop()

	sizes, items := log.snapshot()
	assert.Equal(t, []int{4, 4}, sizes)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, items)

	stats := make(map[string]float64)
	b.Stats("chunk_", stats)
	assert.Equal(t, 2.0, stats["chunk_batches"])
	assert.Equal(t, 4.0, stats["chunk_mean_batch_size"])
	assert.Equal(t, 8.0, stats["chunk_items_pushed"])
}

func TestBatcherFlushesPartialBatchWhenIdle(t *testing.T) {
	log := &batchLog{}
	b := NewBatcher(16, 64, 10*time.Millisecond, log.run)
	b.Start([]int{0})
	defer b.Stop()

	require.NoError(t, b.Push(1))
	require.NoError(t, b.Push(2))
	assert.Eventually(t, func() bool {
		_, items := log.snapshot()
		return len(items) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBatcherStopRunsRemainder(t *testing.T) {
	log := &batchLog{}
	b := NewBatcher(16, 64, time.Hour, log.run)
	b.Start([]int{0})
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Push(i))
	}
	b.Stop()

	sizes, _ := log.snapshot()
	assert.Equal(t, []int{5}, sizes)
	assert.Error(t, b.Push(6))
}

func TestBatcherEveryItemOnceAcrossWorkers(t *testing.T) {
	log := &batchLog{}
	b := NewBatcher(4, 3, 5*time.Millisecond, log.run)
	b.Start([]int{0, 0, 1})

	const n = 500
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += 4 {
				assert.NoError(t, b.Push(i))
			}
		}(w)
	}
	wg.Wait()
	b.Stop()

	sizes, items := log.snapshot()
	sort.Ints(items)
	require.Len(t, items, n)
	for i, v := range items {
		assert.Equal(t, i, v)
	}
	for _, s := range sizes {
		assert.LessOrEqual(t, s, 3)
	}
}

func TestBatcherRestart(t *testing.T) {
	log := &batchLog{}
	b := NewBatcher(4, 2, time.Hour, log.run)

	b.Start([]int{0})
	require.NoError(t, b.Push(1))
	b.Stop()

	b.Start([]int{1})
	require.NoError(t, b.Push(2))
	require.NoError(t, b.Push(3))
	b.Stop()

	sizes, items := log.snapshot()
	assert.Equal(t, []int{1, 2}, sizes)
	assert.Equal(t, []int{1, 2, 3}, items)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, log.devices)
}

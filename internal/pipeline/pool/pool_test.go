package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesShape(t *testing.T) {
	_, err := New[int32]("bases", 0, 10)
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = New[int32]("bases", 4, 0)
	assert.ErrorIs(t, err, ErrInvalidShape)

	p, err := New[int32]("bases", 4, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Size())
	assert.Equal(t, 4, p.Free())
	assert.Equal(t, 10, p.SlotLen())
	assert.Equal(t, "bases", p.Name())
}

func TestAcquireReleaseConservation(t *testing.T) {
	p, err := New[float32]("quals", 3, 8)
	require.NoError(t, err)

	var bufs [][]float32
	for i := 0; i < 3; i++ {
		buf, err := p.Acquire()
		require.NoError(t, err)
		assert.Len(t, buf, 8)
		bufs = append(bufs, buf)
	}
	assert.Equal(t, 0, p.Free())

	for _, b := range bufs {
		p.Release(b)
	}
	assert.Equal(t, 3, p.Free())
	assert.Equal(t, 3, p.Size())
}

func TestSlotsDoNotOverlap(t *testing.T) {
	p, err := New[int32]("bases", 4, 5)
	require.NoError(t, err)

	a := p.MustAcquire()
	b := p.MustAcquire()
	for i := range a {
		a[i] = 1
	}
	for i := range b {
		b[i] = 2
	}
	assert.Equal(t, []int32{1, 1, 1, 1, 1}, a)
	assert.Equal(t, []int32{2, 2, 2, 2, 2}, b)

	// appending must not spill into the neighbouring slot
	a = append(a, 9)
	assert.Equal(t, []int32{2, 2, 2, 2, 2}, b)
}

func TestReleaseZeroesSlot(t *testing.T) {
	p, err := New[int32]("bases", 1, 3)
	require.NoError(t, err)

	buf := p.MustAcquire()
	buf[0], buf[1], buf[2] = 7, 8, 9
	p.Release(buf)

	again := p.MustAcquire()
	assert.Equal(t, []int32{0, 0, 0}, again)
}

func TestExhaustion(t *testing.T) {
	p, err := New[int32]("bases", 1, 2)
	require.NoError(t, err)

	_ = p.MustAcquire()
	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1.0, p.Stats()["misses"])

	assert.Panics(t, func() { p.MustAcquire() })
}

func TestDoubleReleasePanics(t *testing.T) {
	p, err := New[int32]("bases", 2, 2)
	require.NoError(t, err)

	buf := p.MustAcquire()
	p.Release(buf)
	assert.Panics(t, func() { p.Release(buf) })
	assert.Equal(t, 2, p.Free())
}

func TestRejectedReleaseLeavesSlotUntouched(t *testing.T) {
	p, err := New[int32]("bases", 1, 3)
	require.NoError(t, err)

	buf := p.MustAcquire()
	p.Release(buf)
	// the slot is free again; a second release must fail before writing to it
	buf[0], buf[1], buf[2] = 4, 5, 6
	assert.Panics(t, func() { p.Release(buf) })
	assert.Equal(t, []int32{4, 5, 6}, buf)
	assert.Equal(t, 1, p.Free())
}

func TestStatsDoNotWaitForLock(t *testing.T) {
	p, err := New[int32]("bases", 4, 2)
	require.NoError(t, err)
	_ = p.MustAcquire()
	_ = p.MustAcquire()
	p.Release(p.MustAcquire())

	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan map[string]float64, 1)
	go func() { done <- p.Stats() }()
	select {
	case stats := <-done:
		assert.Equal(t, 4.0, stats["size"])
		assert.Equal(t, 2.0, stats["available"])
		assert.Equal(t, 2.0, stats["in_use"])
		assert.Equal(t, 0.0, stats["misses"])
		assert.Equal(t, 2, p.Free())
	case <-time.After(2 * time.Second):
		t.Fatal("Stats blocked on the pool mutex")
	}
}

func TestForeignSlotPanics(t *testing.T) {
	p, err := New[int32]("bases", 2, 4)
	require.NoError(t, err)
	other, err := New[int32]("other", 2, 4)
	require.NoError(t, err)

	assert.Panics(t, func() { p.Release(make([]int32, 4)) })
	assert.Panics(t, func() { p.Release(other.MustAcquire()) })

	buf := p.MustAcquire()
	assert.Panics(t, func() { p.Release(buf[1:]) })
	assert.Equal(t, 1, p.Free())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	const slots = 8
	p, err := New[int32]("bases", slots, 16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < slots; w++ {
		wg.Add(1)
		go func(v int32) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf, err := p.Acquire()
				if !assert.NoError(t, err) {
					return
				}
				buf[0] = v
				p.Release(buf)
			}
		}(int32(w))
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, float64(slots), stats["available"])
	assert.Equal(t, 0.0, stats["in_use"])
}

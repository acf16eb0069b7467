package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

var (
	ErrExhausted     = errors.New("resource pool exhausted")
	ErrForeignSlot   = errors.New("slot does not belong to this pool")
	ErrDoubleRelease = errors.New("slot released twice")
	ErrInvalidShape  = errors.New("pool slots and slot length must be positive")
)

// Pool manages a fixed set of preallocated buffers of identical length
type Pool[E any] struct {
	name    string
	slotLen int
	backing []E

	mu    sync.Mutex
	free  []int
	inUse []bool

	// mirrors of the guarded state so stats never take mu
	available atomic.Int64
	misses    atomic.Int64
}

// New preallocates slots buffers of slotLen elements each
func New[E any](name string, slots, slotLen int) (*Pool[E], error) {
	if slots <= 0 || slotLen <= 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrInvalidShape)
	}

	p := &Pool[E]{
		name:    name,
		slotLen: slotLen,
		backing: make([]E, slots*slotLen),
		free:    make([]int, 0, slots),
		inUse:   make([]bool, slots),
	}
	for i := slots - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	p.available.Store(int64(slots))
	return p, nil
}

// Acquire removes one buffer from the free set
func (p *Pool[E]) Acquire() ([]E, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		p.misses.Add(1)
		return nil, fmt.Errorf("%s: %w (%d slots)", p.name, ErrExhausted, len(p.inUse))
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse[idx] = true
	p.available.Add(-1)
	return p.slot(idx), nil
}

// MustAcquire is Acquire for callers that sized the pool themselves.
// Exhaustion means the sizing is wrong, so it panics.
func (p *Pool[E]) MustAcquire() []E {
	buf, err := p.Acquire()
	if err != nil {
		panic(err)
	}
	return buf
}

// Release zeroes buf and returns it to the free set. A slot that is not
// checked out is left untouched.
func (p *Pool[E]) Release(buf []E) {
	idx, err := p.index(buf)
	if err != nil {
		panic(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[idx] {
		panic(fmt.Errorf("%s: %w (slot %d)", p.name, ErrDoubleRelease, idx))
	}

	var zero E
	slot := p.slot(idx)
	for i := range slot {
		slot[i] = zero
	}
	p.inUse[idx] = false
	p.free = append(p.free, idx)
	p.available.Add(1)
}

func (p *Pool[E]) slot(idx int) []E {
	start := idx * p.slotLen
	return p.backing[start : start+p.slotLen : start+p.slotLen]
}

// index maps a buffer back to its slot by address
func (p *Pool[E]) index(buf []E) (int, error) {
	if cap(buf) == 0 || len(p.backing) == 0 {
		return 0, fmt.Errorf("%s: %w", p.name, ErrForeignSlot)
	}
	var zero E
	size := uintptr(unsafe.Sizeof(zero))
	if size == 0 {
		return 0, fmt.Errorf("%s: %w", p.name, ErrForeignSlot)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.backing)))
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	if addr < base {
		return 0, fmt.Errorf("%s: %w", p.name, ErrForeignSlot)
	}
	offset := (addr - base) / size
	if (addr-base)%size != 0 || int(offset)%p.slotLen != 0 {
		return 0, fmt.Errorf("%s: %w", p.name, ErrForeignSlot)
	}
	idx := int(offset) / p.slotLen
	if idx >= len(p.inUse) {
		return 0, fmt.Errorf("%s: %w", p.name, ErrForeignSlot)
	}
	return idx, nil
}

// Name returns the pool name
func (p *Pool[E]) Name() string {
	return p.name
}

// Size returns the total number of slots
func (p *Pool[E]) Size() int {
	return len(p.inUse)
}

// SlotLen returns the length of every buffer
func (p *Pool[E]) SlotLen() int {
	return p.slotLen
}

// Free returns the number of slots available
func (p *Pool[E]) Free() int {
	return int(p.available.Load())
}

// Stats returns pool statistics. It reads atomics only and is safe to call
// from a stats sampler while workers hold the pool.
func (p *Pool[E]) Stats() map[string]float64 {
	size := int64(len(p.inUse))
	available := p.available.Load()
	return map[string]float64{
		"size":      float64(size),
		"available": float64(available),
		"in_use":    float64(size - available),
		"misses":    float64(p.misses.Load()),
	}
}

package correction

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig  = errors.New("invalid correction config")
	ErrUndersizedPool = errors.New("correction buffer pool is smaller than the pipeline can hold")
)

// Config sizes the correction stage
type Config struct {
	WindowSize     int
	MinDepth       int // supporting reads a window needs to be corrected
	MaxDepth       int // pileup rows including the target
	MinReadLength  int
	BatchSize      int
	BatchTimeout   time.Duration
	FeatureThreads int
	InferThreads   int // per device
	DecodeThreads  int
	Devices        []int
	FeatureQueue   int
	InferredQueue  int
	PoolSlots      int // 0 derives the minimum safe size
}

// DefaultConfig returns the stage defaults
func DefaultConfig() Config {
	return Config{
		WindowSize:     4096,
		MinDepth:       1,
		MaxDepth:       30,
		MinReadLength:  100,
		BatchSize:      32,
		BatchTimeout:   100 * time.Millisecond,
		FeatureThreads: 4,
		InferThreads:   1,
		DecodeThreads:  2,
		Devices:        []int{0},
		FeatureQueue:   64,
		InferredQueue:  64,
	}
}

// RequiredSlots is the most windows that can hold pooled buffers at once:
// everything both queues can buffer, one window per feature and decode
// worker, and one full batch per inference worker.
func (c Config) RequiredSlots() int {
	inferWorkers := c.InferThreads * len(c.Devices)
	return c.FeatureQueue + c.InferredQueue + c.FeatureThreads + c.DecodeThreads + inferWorkers*c.BatchSize
}

// Validate checks sizes and the pool against RequiredSlots
func (c Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"window size", c.WindowSize},
		{"max depth", c.MaxDepth},
		{"batch size", c.BatchSize},
		{"feature threads", c.FeatureThreads},
		{"infer threads", c.InferThreads},
		{"decode threads", c.DecodeThreads},
		{"feature queue", c.FeatureQueue},
		{"inferred queue", c.InferredQueue},
		{"devices", len(c.Devices)},
	}
	for _, ch := range checks {
		if ch.value < 1 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, ch.name, ch.value)
		}
	}
	if c.MinDepth < 1 || c.MinDepth >= c.MaxDepth {
		return fmt.Errorf("%w: min depth %d must be in [1, max depth %d)", ErrInvalidConfig, c.MinDepth, c.MaxDepth)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("%w: batch timeout must be positive", ErrInvalidConfig)
	}
	if c.PoolSlots > 0 && c.PoolSlots < c.RequiredSlots() {
		return fmt.Errorf("%w: %d slots configured, %d required", ErrUndersizedPool, c.PoolSlots, c.RequiredSlots())
	}
	return nil
}

func (c Config) poolSlots() int {
	if c.PoolSlots > 0 {
		return c.PoolSlots
	}
	return c.RequiredSlots()
}

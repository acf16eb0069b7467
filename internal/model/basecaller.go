package model

import (
	"context"
	"fmt"
	"math"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

const levelBases = "ACGT"

// LevelBasecaller is a deterministic stand-in for a neural basecaller. It
// quantises the mean level of each stride block into one of four bases and
// emits a base whenever the level changes or a homopolymer run grows long.
type LevelBasecaller struct {
	name      string
	stride    int
	maxRunLen int
}

// NewLevelBasecaller creates a basecaller with the given stride
func NewLevelBasecaller(name string, stride int) (*LevelBasecaller, error) {
	if stride <= 0 {
		return nil, fmt.Errorf("basecaller %s: stride must be positive, got %d", name, stride)
	}
	return &LevelBasecaller{name: name, stride: stride, maxRunLen: 3}, nil
}

// Name returns the model name
func (b *LevelBasecaller) Name() string {
	return b.name
}

// Stride returns samples per move
func (b *LevelBasecaller) Stride() int {
	return b.stride
}

// Call basecalls each chunk independently
func (b *LevelBasecaller) Call(ctx context.Context, chunks [][]float32) ([]CallResult, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]CallResult, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = b.call(chunk)
	}
	return out, nil
}

func (b *LevelBasecaller) call(chunk []float32) CallResult {
	blocks := len(chunk) / b.stride
	moves := make([]uint8, blocks)
	seq := make([]byte, 0, blocks/2+1)
	qual := make([]byte, 0, blocks/2+1)

	prev, run := -1, 0
	for blk := 0; blk < blocks; blk++ {
		level := mean(chunk[blk*b.stride : (blk+1)*b.stride])
		bucket, dist := quantise(level)
		run++
		if bucket == prev && run < b.maxRunLen {
			continue
		}
		moves[blk] = 1
		seq = append(seq, levelBases[bucket])
		qual = append(qual, message.PhredChar(int(40-60*dist)))
		prev, run = bucket, 0
	}
	return CallResult{Seq: string(seq), Qual: string(qual), Moves: moves}
}

// quantise maps a scaled level to a bucket in 0..3 and its distance from the
// bucket centre, capped at 0.5
func quantise(level float64) (int, float64) {
	x := level + 2
	bucket := int(math.Floor(x))
	if bucket < 0 {
		bucket = 0
	}
	if bucket > 3 {
		bucket = 3
	}
	dist := math.Abs(x - (float64(bucket) + 0.5))
	if dist > 0.5 {
		dist = 0.5
	}
	return bucket, dist
}

func mean(xs []float32) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	return sum / float64(len(xs))
}

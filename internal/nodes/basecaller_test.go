package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
	"github.com/GriffinCanCode/readpipe/internal/model/accel"
)

// blockCaller emits one base per stride block, named by the block's first
// sample, so a correctly stitched read spells out its whole signal
type blockCaller struct {
	stride int
	fail   bool

	mu      sync.Mutex
	batches []int
}

func (b *blockCaller) Name() string { return "block" }
func (b *blockCaller) Stride() int  { return b.stride }

func (b *blockCaller) Call(_ context.Context, chunks [][]float32) ([]model.CallResult, error) {
	b.mu.Lock()
	b.batches = append(b.batches, len(chunks))
	b.mu.Unlock()
	if b.fail {
		return nil, errors.New("device lost")
	}
	out := make([]model.CallResult, len(chunks))
	for i, c := range chunks {
		blocks := len(c) / b.stride
		moves := make([]uint8, blocks)
		seq := make([]byte, blocks)
		for j := range moves {
			moves[j] = 1
			seq[j] = "ACGT"[int(c[j*b.stride])%4]
		}
		out[i] = model.CallResult{Seq: string(seq), Qual: message.UniformQual(blocks, 20), Moves: moves}
	}
	return out, nil
}

func (b *blockCaller) maxBatch() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := 0
	for _, n := range b.batches {
		m = max(m, n)
	}
	return m
}

func rampSignal(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i % 7)
	}
	return s
}

func spelled(signal []float32, stride int) string {
	var sb strings.Builder
	for g := 0; g+stride <= len(signal); g += stride {
		sb.WriteByte("ACGT"[int(signal[g])%4])
	}
	return sb.String()
}

func basecallOpts() BasecallerOptions {
	return BasecallerOptions{
		ChunkSize:    40,
		Overlap:      10,
		BatchSize:    4,
		BatchTimeout: 5 * time.Millisecond,
		Devices:      []int{0, 1},
		Locks:        &accel.Locks{},
	}
}

func TestChunkStarts(t *testing.T) {
	assert.Equal(t, []int{0}, chunkStarts(30, 40, 10, 5))
	assert.Equal(t, []int{0}, chunkStarts(40, 40, 10, 5))
	assert.Equal(t, []int{0, 30, 60}, chunkStarts(100, 40, 10, 5))
	assert.Equal(t, []int{0, 30, 60, 65}, chunkStarts(105, 40, 10, 5))
	assert.Equal(t, []int{0, 40}, chunkStarts(80, 40, 0, 5))
}

func TestNewBasecallerValidates(t *testing.T) {
	caller := &blockCaller{stride: 5}

	_, err := NewBasecaller(nil, basecallOpts())
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts := basecallOpts()
	opts.ChunkSize = 4
	_, err = NewBasecaller(caller, opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	opts = basecallOpts()
	opts.Overlap = 40
	_, err = NewBasecaller(caller, opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	for _, stride := range []int{0, -4} {
		_, err = NewBasecaller(&blockCaller{stride: stride}, basecallOpts())
		assert.ErrorIs(t, err, ErrInvalidOptions, "stride %d", stride)
	}

	// rounded down to the stride
	opts = basecallOpts()
	opts.ChunkSize, opts.Overlap = 43, 12
	b, err := NewBasecaller(caller, opts)
	require.NoError(t, err)
	assert.Equal(t, 40, b.opts.ChunkSize)
	assert.Equal(t, 10, b.opts.Overlap)
}

func TestBasecallerStitchesChunks(t *testing.T) {
	caller := &blockCaller{stride: 5}
	b, err := NewBasecaller(caller, basecallOpts())
	require.NoError(t, err)

	lengths := []int{12, 40, 100, 105, 333, 1000}
	var msgs []message.Message
	for i, n := range lengths {
		msgs = append(msgs, &message.Read{ReadID: fmt.Sprintf("r%d", i), Signal: rampSignal(n)})
	}
	sink, stats := run(t, b, msgs...)

	reads := sink.reads()
	require.Len(t, reads, len(lengths))
	for i, n := range lengths {
		r := reads[fmt.Sprintf("r%d", i)]
		want := spelled(rampSignal(n), 5)
		assert.Equal(t, want, r.Seq, "length %d", n)
		assert.Len(t, r.Qual, len(want))
		assert.Len(t, r.Moves, n/5)
		assert.Equal(t, 5, r.ModelStride)
		assert.Equal(t, "block", r.CalledBy)
	}
	assert.Equal(t, float64(len(lengths)), stats["num_called"])
	assert.Equal(t, 0.0, stats["reads_pending"])
	assert.LessOrEqual(t, caller.maxBatch(), 4)
	assert.Greater(t, stats["chunk_batches"], 0.0)
}

func TestBasecallerBatchesAcrossReads(t *testing.T) {
	caller := &blockCaller{stride: 5}
	opts := basecallOpts()
	opts.BatchSize = 8
	opts.Devices = []int{0}
	opts.BatchTimeout = time.Second
	b, err := NewBasecaller(caller, opts)
	require.NoError(t, err)

	var msgs []message.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, &message.Read{ReadID: fmt.Sprintf("r%d", i), Signal: rampSignal(40)})
	}
	sink, _ := run(t, b, msgs...)
	assert.Len(t, sink.reads(), 8)
	assert.Equal(t, 8, caller.maxBatch())
}

func TestBasecallerFailureDropsRead(t *testing.T) {
	b, err := NewBasecaller(&blockCaller{stride: 5, fail: true}, basecallOpts())
	require.NoError(t, err)

	sink, stats := run(t, b,
		&message.Read{ReadID: "lost", Signal: rampSignal(200)},
		&message.Read{ReadID: "called", Seq: "ACGT"},
		&message.CorrectedRead{ReadName: "other"},
	)
	assert.Len(t, sink.all(), 2)
	assert.NotContains(t, sink.reads(), "lost")
	assert.Equal(t, 1.0, stats["reads_failed"])
	assert.Equal(t, 1.0, stats["reads_no_signal"])
	assert.Equal(t, 0.0, stats["reads_pending"])
}

func TestBasecallerReversesRNA(t *testing.T) {
	b, err := NewBasecaller(&blockCaller{stride: 5}, basecallOpts())
	require.NoError(t, err)

	signal := rampSignal(120)
	sink, _ := run(t, b, &message.Read{ReadID: "rna", Signal: signal, IsRNA: true})
	r := sink.reads()["rna"]
	require.NotNil(t, r)
	assert.Equal(t, message.Reverse(spelled(signal, 5)), r.Seq)
}

func TestStitchKeepsMovesAndBasesAligned(t *testing.T) {
	// every other block emits a base
	call := func(blocks int, first byte) model.CallResult {
		moves := make([]uint8, blocks)
		var seq []byte
		for i := range moves {
			if i%2 == 0 {
				moves[i] = 1
				seq = append(seq, first+byte(i/2))
			}
		}
		return model.CallResult{Seq: string(seq), Moves: moves}
	}
	// two chunks of 8 blocks overlapping by 4, stride 1
	res := stitch([]int{0, 4}, []model.CallResult{call(8, 'a'), call(8, 'c')}, 1)
	assert.Equal(t, []uint8{1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0}, res.Moves)
	assert.Equal(t, "abcdef", res.Seq)
	assert.Equal(t, strings.Count(string(res.Moves), "\x01"), len(res.Seq))
}

package nodes

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
	"github.com/GriffinCanCode/readpipe/internal/model/accel"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// BasecallerOptions controls chunking and batching. ChunkSize and Overlap
// are in samples and are rounded down to the model stride.
type BasecallerOptions struct {
	ChunkSize     int
	Overlap       int
	BatchSize     int
	BatchTimeout  time.Duration
	QueueCapacity int
	Devices       []int
	Locks         *accel.Locks // accel.Shared() when nil
}

// Basecaller splits each read's signal into overlapping chunks, batches
// chunks from many reads through the model and stitches the calls back into
// one sequence per read.
type Basecaller struct {
	caller model.Basecaller
	opts   BasecallerOptions
	stride int
	batch  *pipeline.Batcher[*chunk]

	ctx    context.Context
	rt     pipeline.Runtime
	logger *logging.Logger

	received  atomic.Int64
	called    atomic.Int64
	failed    atomic.Int64
	noSignal  atomic.Int64
	pending   atomic.Int64
	bases     atomic.Int64
	chunks    atomic.Int64
	callNanos atomic.Int64
}

// callJob tracks the chunks of one read
type callJob struct {
	read      *message.Read
	chunks    []*chunk
	remaining atomic.Int32
	failed    atomic.Bool
	started   time.Time
}

type chunk struct {
	job    *callJob
	start  int
	signal []float32
	res    model.CallResult
}

// NewBasecaller validates opts against the model stride
func NewBasecaller(caller model.Basecaller, opts BasecallerOptions) (*Basecaller, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: basecaller model is required", ErrInvalidOptions)
	}
	stride := caller.Stride()
	if stride < 1 {
		return nil, fmt.Errorf("%w: model %s reports stride %d", ErrInvalidOptions, caller.Name(), stride)
	}
	opts.ChunkSize = opts.ChunkSize / stride * stride
	opts.Overlap = opts.Overlap / stride * stride
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must cover at least one stride of %d", ErrInvalidOptions, stride)
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidOptions, opts.Overlap, opts.ChunkSize)
	}
	if len(opts.Devices) == 0 {
		opts.Devices = []int{0}
	}
	if opts.Locks == nil {
		opts.Locks = accel.Shared()
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 4 * max(opts.BatchSize, 1)
	}

	b := &Basecaller{
		caller: caller,
		opts:   opts,
		stride: stride,
		ctx:    context.Background(),
		logger: logging.NewNop(),
	}
	b.batch = pipeline.NewBatcher(max(opts.QueueCapacity, opts.BatchSize), opts.BatchSize, opts.BatchTimeout, b.run)
	return b, nil
}

// Start spawns one batching worker per device
func (b *Basecaller) Start(rt pipeline.Runtime) error {
	b.rt = rt
	if rt.Logger != nil {
		b.logger = rt.Logger
	}
	b.batch.Start(b.opts.Devices)
	b.logger.Debug("basecaller started",
		zap.String("model", b.caller.Name()),
		zap.Int("chunk_size", b.opts.ChunkSize),
		zap.Int("overlap", b.opts.Overlap),
		zap.Ints("devices", b.opts.Devices))
	return nil
}

// Drain runs the partial batches and waits for every read to be emitted
func (b *Basecaller) Drain(pipeline.FlushOptions) error {
	b.batch.Stop()
	if n := b.pending.Load(); n > 0 {
		return fmt.Errorf("%d reads still awaiting chunks after drain", n)
	}
	return nil
}

// Process queues the chunks of a read. Reads without signal and other
// kinds are forwarded.
func (b *Basecaller) Process(msg message.Message, emit pipeline.Emitter) {
	r, ok := msg.(*message.Read)
	if !ok {
		emit.Emit(msg)
		return
	}
	if len(r.Signal) == 0 {
		b.noSignal.Add(1)
		emit.Emit(r)
		return
	}
	b.received.Add(1)

	job := &callJob{read: r, started: time.Now()}
	starts := chunkStarts(len(r.Signal), b.opts.ChunkSize, b.opts.Overlap, b.stride)
	job.chunks = make([]*chunk, len(starts))
	for i, s := range starts {
		end := min(s+b.opts.ChunkSize, len(r.Signal))
		if i == len(starts)-1 {
			end = len(r.Signal)
		}
		job.chunks[i] = &chunk{job: job, start: s, signal: r.Signal[s:end]}
	}
	job.remaining.Store(int32(len(job.chunks)))
	b.pending.Add(1)
	b.chunks.Add(int64(len(job.chunks)))

	for _, c := range job.chunks {
		if err := b.batch.Push(c); err != nil {
			b.raise(fmt.Errorf("chunk queue: %w", err))
			c.job.failed.Store(true)
			b.done(c)
		}
	}
}

func (b *Basecaller) run(device int, batch []*chunk) {
	signals := make([][]float32, len(batch))
	for i, c := range batch {
		signals[i] = c.signal
	}

	start := time.Now()
	lock := b.opts.Locks.For(device)
	lock.Lock()
	res, err := b.caller.Call(b.ctx, signals)
	lock.Unlock()
	b.callNanos.Add(int64(time.Since(start)))

	if err == nil && len(res) != len(batch) {
		err = fmt.Errorf("%w: %d chunks, %d calls", model.ErrArityMismatch, len(batch), len(res))
	}
	if err != nil {
		b.logger.Warn("basecall batch failed",
			zap.Int("device", device),
			zap.Int("chunks", len(batch)),
			zap.Error(err))
	}
	for i, c := range batch {
		if err != nil {
			c.job.failed.Store(true)
		} else {
			c.res = res[i]
		}
		b.done(c)
	}
}

// done accounts for one chunk; the last chunk of a read emits it
func (b *Basecaller) done(c *chunk) {
	if c.job.remaining.Add(-1) != 0 {
		return
	}
	b.finish(c.job)
}

func (b *Basecaller) finish(job *callJob) {
	defer b.pending.Add(-1)
	r := job.read
	if job.failed.Load() {
		b.failed.Add(1)
		b.logger.Warn("read dropped after basecall failure", logging.ReadID(r.ReadID))
		return
	}

	starts := make([]int, len(job.chunks))
	calls := make([]model.CallResult, len(job.chunks))
	for i, c := range job.chunks {
		starts[i], calls[i] = c.start, c.res
	}
	res := stitch(starts, calls, b.stride)

	r.Seq, r.Qual, r.Moves = res.Seq, res.Qual, res.Moves
	if len(r.Qual) != len(r.Seq) {
		r.Qual = message.UniformQual(len(r.Seq), defaultQ)
	}
	if r.IsRNA {
		r.Seq = message.Reverse(r.Seq)
		r.Qual = message.Reverse(r.Qual)
	}
	r.ModelStride = b.stride
	r.CalledBy = b.caller.Name()
	r.BasecallDuration = time.Since(job.started)

	b.called.Add(1)
	b.bases.Add(int64(len(r.Seq)))
	b.rt.Emit.Emit(r)
}

func (b *Basecaller) raise(err error) {
	if b.rt.Fatal != nil {
		b.rt.Fatal(err)
		return
	}
	b.logger.Error("basecaller invariant violated", zap.Error(err))
}

// Stats reports read, chunk and model counters
func (b *Basecaller) Stats() map[string]float64 {
	stats := map[string]float64{
		"reads_received":  float64(b.received.Load()),
		"num_called":      float64(b.called.Load()),
		"reads_failed":    float64(b.failed.Load()),
		"reads_no_signal": float64(b.noSignal.Load()),
		"reads_pending":   float64(b.pending.Load()),
		"bases_called":    float64(b.bases.Load()),
		"chunks":          float64(b.chunks.Load()),
		"model_ms":        float64(b.callNanos.Load()) / 1e6,
	}
	b.batch.Stats("chunk_", stats)
	return stats
}

// defaultQ is assigned to bases a model returned no quality for
const defaultQ = 10

// chunkStarts returns stride aligned chunk offsets covering n samples. The
// last chunk is pulled back to end at the signal end.
func chunkStarts(n, size, overlap, stride int) []int {
	if n <= size {
		return []int{0}
	}
	step := size - overlap
	var starts []int
	for s := 0; s+size < n; s += step {
		starts = append(starts, s)
	}
	if last := (n - size) / stride * stride; last > starts[len(starts)-1] {
		starts = append(starts, last)
	}
	return starts
}

// stitch joins per-chunk calls. Neighbouring chunks split their overlap at
// the stride block nearest its middle.
func stitch(starts []int, calls []model.CallResult, stride int) model.CallResult {
	if len(calls) == 1 {
		return calls[0]
	}
	var (
		moves []uint8
		seq   []byte
		qual  []byte
	)
	lo := 0
	for i, c := range calls {
		first := starts[i] / stride
		hi := first + len(c.Moves)
		if i+1 < len(calls) {
			end := starts[i] + len(c.Moves)*stride
			hi = (starts[i+1] + end) / 2 / stride
		}
		lb := clamp(lo-first, 0, len(c.Moves))
		hb := clamp(hi-first, lb, len(c.Moves))

		from, to := ones(c.Moves[:lb]), ones(c.Moves[:hb])
		moves = append(moves, c.Moves[lb:hb]...)
		seq = append(seq, c.Seq[min(from, len(c.Seq)):min(to, len(c.Seq))]...)
		if len(c.Qual) == len(c.Seq) {
			qual = append(qual, c.Qual[min(from, len(c.Qual)):min(to, len(c.Qual))]...)
		}
		lo = hi
	}
	out := model.CallResult{Seq: string(seq), Moves: moves}
	if len(qual) == len(seq) {
		out.Qual = string(qual)
	}
	return out
}

func ones(moves []uint8) int {
	n := 0
	for _, m := range moves {
		if m == 1 {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

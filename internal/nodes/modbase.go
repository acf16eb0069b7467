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

// ModBaseOptions controls batching of reads through a mod-base model
type ModBaseOptions struct {
	BatchSize     int
	BatchTimeout  time.Duration
	QueueCapacity int
	Devices       []int
	Locks         *accel.Locks
}

// ModBaseCaller attaches per-base modification probabilities to called
// reads. A failed model call leaves the reads without probabilities.
type ModBaseCaller struct {
	caller model.ModBaseCaller
	info   message.ModBaseInfo
	opts   ModBaseOptions
	batch  *pipeline.Batcher[*message.Read]

	ctx    context.Context
	rt     pipeline.Runtime
	logger *logging.Logger

	called    atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	callNanos atomic.Int64
}

// NewModBaseCaller creates the stage around caller
func NewModBaseCaller(caller model.ModBaseCaller, opts ModBaseOptions) (*ModBaseCaller, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: mod-base model is required", ErrInvalidOptions)
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
	m := &ModBaseCaller{
		caller: caller,
		info:   caller.Info(),
		opts:   opts,
		ctx:    context.Background(),
		logger: logging.NewNop(),
	}
	m.batch = pipeline.NewBatcher(max(opts.QueueCapacity, opts.BatchSize), opts.BatchSize, opts.BatchTimeout, m.run)
	return m, nil
}

func (m *ModBaseCaller) Start(rt pipeline.Runtime) error {
	m.rt = rt
	if rt.Logger != nil {
		m.logger = rt.Logger
	}
	m.batch.Start(m.opts.Devices)
	return nil
}

func (m *ModBaseCaller) Drain(pipeline.FlushOptions) error {
	m.batch.Stop()
	return nil
}

// Process queues called reads that have a move table
func (m *ModBaseCaller) Process(msg message.Message, emit pipeline.Emitter) {
	r, ok := msg.(*message.Read)
	if !ok {
		emit.Emit(msg)
		return
	}
	if r.Seq == "" || len(r.Moves) == 0 || r.ModelStride <= 0 {
		m.skipped.Add(1)
		emit.Emit(r)
		return
	}
	if err := m.batch.Push(r); err != nil {
		m.raise(fmt.Errorf("mod-base queue: %w", err))
		emit.Emit(r)
	}
}

func (m *ModBaseCaller) run(device int, batch []*message.Read) {
	inputs := make([]model.ModBaseInput, len(batch))
	for i, r := range batch {
		seq := r.Seq
		if r.IsRNA {
			seq = message.Reverse(seq)
		}
		inputs[i] = model.ModBaseInput{Seq: seq, Signal: r.Signal, Moves: r.Moves, Stride: r.ModelStride}
	}

	start := time.Now()
	lock := m.opts.Locks.For(device)
	lock.Lock()
	probs, err := m.caller.CallMods(m.ctx, inputs)
	lock.Unlock()
	m.callNanos.Add(int64(time.Since(start)))

	if err == nil && len(probs) != len(batch) {
		err = fmt.Errorf("%w: %d reads, %d results", model.ErrArityMismatch, len(batch), len(probs))
	}
	if err != nil {
		m.failed.Add(int64(len(batch)))
		m.logger.Warn("mod-base batch failed", zap.Int("reads", len(batch)), zap.Error(err))
	}

	channels := len(m.info.Alphabet)
	for i, r := range batch {
		if err == nil && len(probs[i]) == len(r.Seq)*channels {
			info := m.info
			r.ModBaseInfo = &info
			r.ModBaseProbs = probs[i]
			if r.IsRNA {
				reverseRows(r.ModBaseProbs, channels)
			}
			m.called.Add(1)
		}
		m.rt.Emit.Emit(r)
	}
}

func (m *ModBaseCaller) raise(err error) {
	if m.rt.Fatal != nil {
		m.rt.Fatal(err)
		return
	}
	m.logger.Error("mod-base invariant violated", zap.Error(err))
}

func (m *ModBaseCaller) Stats() map[string]float64 {
	stats := map[string]float64{
		"reads_modcalled": float64(m.called.Load()),
		"reads_failed":    float64(m.failed.Load()),
		"reads_skipped":   float64(m.skipped.Load()),
		"model_ms":        float64(m.callNanos.Load()) / 1e6,
	}
	m.batch.Stats("read_", stats)
	return stats
}

// reverseRows reverses the order of the width-wide rows of p in place
func reverseRows(p []uint8, width int) {
	rows := len(p) / width
	for i, j := 0, rows-1; i < j; i, j = i+1, j-1 {
		for c := 0; c < width; c++ {
			p[i*width+c], p[j*width+c] = p[j*width+c], p[i*width+c]
		}
	}
}

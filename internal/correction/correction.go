package correction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
	"github.com/GriffinCanCode/readpipe/internal/model/accel"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
	"github.com/GriffinCanCode/readpipe/internal/pipeline/pool"
	"github.com/GriffinCanCode/readpipe/internal/pipeline/queue"
)

// window is one unit of work. Its buffers belong to the pools and are
// handed from feature extraction to inference to decode without copying.
type window struct {
	read     string
	index    int
	span     message.Interval
	bases    []int32
	quals    []float32
	features model.Features
	pred     model.Prediction
	err      error
}

// Processor corrects reads window by window. Its Process method runs on
// the node's workers and extracts features; inference and decode run on
// workers it owns.
type Processor struct {
	cfg       Config
	corrector model.Corrector
	locks     *accel.Locks

	basePool *pool.Pool[int32]
	qualPool *pool.Pool[float32]
	batches  *pipeline.Batcher[*window]
	decodeQ  *queue.AsyncQueue[*window]

	ctx    context.Context
	rt     pipeline.Runtime
	logger *logging.Logger
	decW   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*readState

	pendingReads    atomic.Int64
	readsIn         atomic.Int64
	readsCorrected  atomic.Int64
	readsPartial    atomic.Int64
	readsBypassed   atomic.Int64
	windowsCreated  atomic.Int64
	windowsDecoded  atomic.Int64
	windowsFailed   atomic.Int64
	windowsUnusable atomic.Int64
	inferNanos      atomic.Int64
}

// Option configures a Processor
type Option func(*Processor)

// WithLocks sets the accelerator lock table, accel.Shared() by default
func WithLocks(l *accel.Locks) Option {
	return func(p *Processor) { p.locks = l }
}

// New validates cfg and preallocates the window buffers
func New(cfg Config, corrector model.Corrector, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if corrector == nil {
		return nil, fmt.Errorf("%w: corrector is required", ErrInvalidConfig)
	}

	slots, slotLen := cfg.poolSlots(), cfg.MaxDepth*cfg.WindowSize
	basePool, err := pool.New[int32]("correction_bases", slots, slotLen)
	if err != nil {
		return nil, err
	}
	qualPool, err := pool.New[float32]("correction_quals", slots, slotLen)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:       cfg,
		corrector: corrector,
		locks:     accel.Shared(),
		basePool:  basePool,
		qualPool:  qualPool,
		decodeQ:   queue.MustNew[*window](cfg.InferredQueue),
		ctx:       context.Background(),
		logger:    logging.NewNop(),
		pending:   make(map[string]*readState),
	}
	p.batches = pipeline.NewBatcher(cfg.FeatureQueue, cfg.BatchSize, cfg.BatchTimeout, p.infer)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewNode wraps a new Processor in a pipeline node running
// cfg.FeatureThreads feature workers
func NewNode(name string, cfg Config, corrector model.Corrector, opts ...Option) (*pipeline.Node, error) {
	p, err := New(cfg, corrector, opts...)
	if err != nil {
		return nil, err
	}
	return pipeline.NewNode(name, p, pipeline.WithThreads(cfg.FeatureThreads))
}

// Start reopens the internal queues and spawns inference and decode workers
func (p *Processor) Start(rt pipeline.Runtime) error {
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.decodeQ.Restart()

	workers := make([]int, 0, len(p.cfg.Devices)*p.cfg.InferThreads)
	for _, device := range p.cfg.Devices {
		for i := 0; i < p.cfg.InferThreads; i++ {
			workers = append(workers, device)
		}
	}
	p.batches.Start(workers)

	for i := 0; i < p.cfg.DecodeThreads; i++ {
		p.decW.Add(1)
		go p.decodeWorker()
	}

	p.logger.Debug("correction workers started",
		zap.Ints("devices", p.cfg.Devices),
		zap.Int("infer_threads", p.cfg.InferThreads),
		zap.Int("decode_threads", p.cfg.DecodeThreads),
		zap.Int("pool_slots", p.basePool.Size()))
	return nil
}

// Drain runs once the feature workers have exited. Each internal queue is
// closed only after everything feeding it has stopped.
func (p *Processor) Drain(pipeline.FlushOptions) error {
	p.batches.Stop()
	p.decodeQ.Terminate()
	p.decW.Wait()

	p.mu.Lock()
	stranded := len(p.pending)
	p.mu.Unlock()
	if stranded > 0 {
		return fmt.Errorf("%d reads still awaiting windows after drain", stranded)
	}
	return nil
}

// Process splits one read into windows and queues the usable ones.
// Anything other than CorrectionAlignments is forwarded.
func (p *Processor) Process(msg message.Message, emit pipeline.Emitter) {
	read, ok := msg.(*message.CorrectionAlignments)
	if !ok {
		emit.Emit(msg)
		return
	}
	p.readsIn.Add(1)

	if len(read.Seq) < p.cfg.MinReadLength || len(read.Seq) == 0 {
		p.bypass(read, emit, 0, "read shorter than minimum length")
		return
	}

	pl := planWindows(read, p.cfg)
	if pl.usable == 0 {
		p.windowsUnusable.Add(int64(len(pl.spans)))
		p.bypass(read, emit, len(pl.spans), "no window has enough supporting reads")
		return
	}

	// Register before any window is queued so a fast decode cannot finish
	// the read before it is known.
	st := newReadState(read, len(pl.spans), pl.usable)
	for w, span := range pl.spans {
		if !pl.isUsable(w, p.cfg) {
			st.results = append(st.results, original(read, w, span, false))
			p.windowsUnusable.Add(1)
		}
	}
	p.mu.Lock()
	if _, dup := p.pending[read.ReadName]; dup {
		p.mu.Unlock()
		p.logger.Error("read already in correction, passing through", logging.ReadID(read.ReadName))
		p.bypass(read, emit, len(pl.spans), "duplicate read name")
		return
	}
	p.pending[read.ReadName] = st
	p.mu.Unlock()
	p.pendingReads.Add(1)

	for w, span := range pl.spans {
		if !pl.isUsable(w, p.cfg) {
			continue
		}
		p.windowsCreated.Add(1)
		win := &window{read: read.ReadName, index: w, span: span}

		bases, err := p.basePool.Acquire()
		if err != nil {
			p.raise(err)
			p.fail(win, err)
			continue
		}
		quals, err := p.qualPool.Acquire()
		if err != nil {
			p.basePool.Release(bases)
			p.raise(err)
			p.fail(win, err)
			continue
		}
		win.bases, win.quals = bases, quals
		win.features = pl.fill(w, bases, quals)

		if err := p.batches.Push(win); err != nil {
			p.raise(fmt.Errorf("feature queue: %w", err))
			p.fail(win, err)
		}
	}
}

func (p *Processor) bypass(read *message.CorrectionAlignments, emit pipeline.Emitter, windows int, reason string) {
	p.readsBypassed.Add(1)
	emit.Emit(&message.CorrectedRead{
		ReadName: read.ReadName,
		Seq:      read.Seq,
		Qual:     qualOrDefault(read.Qual, len(read.Seq)),
		Status:   message.StatusNotCorrected,
		Reason:   reason,
		Windows:  windows,
	})
}

// infer runs one batch under the device lock. A failed call fails every
// window of the batch; decode still accounts for each of them.
func (p *Processor) infer(device int, batch []*window) {
	feats := make([]model.Features, len(batch))
	for i, w := range batch {
		feats[i] = w.features
	}

	start := time.Now()
	lock := p.locks.For(device)
	lock.Lock()
	preds, err := p.corrector.Infer(p.ctx, feats)
	lock.Unlock()
	p.inferNanos.Add(int64(time.Since(start)))

	if err == nil && len(preds) != len(batch) {
		err = fmt.Errorf("%w: %d windows, %d predictions", model.ErrArityMismatch, len(batch), len(preds))
	}
	if err != nil {
		p.logger.Warn("inference batch failed",
			zap.Int("device", device),
			zap.Int("windows", len(batch)),
			zap.Error(err))
	}

	for i, w := range batch {
		if err != nil {
			w.err = err
		} else {
			w.pred = preds[i]
		}
		if perr := p.decodeQ.Push(w); perr != nil {
			p.raise(fmt.Errorf("inferred queue: %w", perr))
			p.fail(w, perr)
		}
	}
}

func (p *Processor) decodeWorker() {
	defer p.decW.Done()
	for {
		w, ok := p.decodeQ.Pop()
		if !ok {
			return
		}
		res := p.decode(w)
		p.releaseBuffers(w)
		p.complete(w.read, res)
	}
}

// fail accounts for a window that never reached decode
func (p *Processor) fail(w *window, err error) {
	w.err = err
	res := p.decode(w)
	p.releaseBuffers(w)
	p.complete(w.read, res)
}

func (p *Processor) raise(err error) {
	if p.rt.Fatal != nil {
		p.rt.Fatal(err)
		return
	}
	p.logger.Error("correction invariant violated", zap.Error(err))
}

func (p *Processor) releaseBuffers(w *window) {
	if w.bases != nil {
		p.basePool.Release(w.bases)
		w.bases = nil
	}
	if w.quals != nil {
		p.qualPool.Release(w.quals)
		w.quals = nil
	}
	w.features = model.Features{}
}

// Stats reports read and window accounting plus pool and queue levels
func (p *Processor) Stats() map[string]float64 {
	stats := map[string]float64{
		"reads_received":   float64(p.readsIn.Load()),
		"reads_corrected":  float64(p.readsCorrected.Load()),
		"reads_partial":    float64(p.readsPartial.Load()),
		"reads_bypassed":   float64(p.readsBypassed.Load()),
		"reads_pending":    float64(p.pendingReads.Load()),
		"windows_created":  float64(p.windowsCreated.Load()),
		"windows_decoded":  float64(p.windowsDecoded.Load()),
		"windows_failed":   float64(p.windowsFailed.Load()),
		"windows_unusable": float64(p.windowsUnusable.Load()),
		"inference_ms":     float64(p.inferNanos.Load()) / 1e6,
	}
	for k, v := range p.basePool.Stats() {
		stats["base_pool_"+k] = v
	}
	for k, v := range p.qualPool.Stats() {
		stats["qual_pool_"+k] = v
	}
	p.batches.Stats("feature_", stats)
	for k, v := range p.decodeQ.Stats() {
		stats["inferred_"+k] = v
	}
	return stats
}

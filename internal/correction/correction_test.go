package correction

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
	"github.com/GriffinCanCode/readpipe/internal/model/accel"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
	"github.com/GriffinCanCode/readpipe/internal/pipeline/pool"
)

// sink records what reaches the end of the test pipeline
type sink struct {
	mu    sync.Mutex
	out   []*message.CorrectedRead
	other []message.Message
}

func (s *sink) Process(msg message.Message, _ pipeline.Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := msg.(*message.CorrectedRead); ok {
		s.out = append(s.out, r)
		return
	}
	s.other = append(s.other, msg)
}

func (s *sink) reads() []*message.CorrectedRead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*message.CorrectedRead(nil), s.out...)
}

func (s *sink) byName() map[string]*message.CorrectedRead {
	out := make(map[string]*message.CorrectedRead)
	for _, r := range s.reads() {
		out[r.ReadName] = r
	}
	return out
}

type fatals struct {
	mu   sync.Mutex
	errs []error
}

func (f *fatals) handle(_ string, err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WindowSize = 8
	cfg.MaxDepth = 4
	cfg.MinReadLength = 4
	cfg.BatchSize = 2
	cfg.BatchTimeout = 5 * time.Millisecond
	cfg.FeatureThreads = 2
	cfg.DecodeThreads = 2
	cfg.FeatureQueue = 4
	cfg.InferredQueue = 4
	return cfg
}

func build(t *testing.T, cfg Config, corrector model.Corrector, opts ...Option) (*pipeline.Pipeline, *sink, *fatals) {
	t.Helper()
	out := &sink{}
	rec := &fatals{}

	sinkNode, err := pipeline.NewNode("sink", out)
	require.NoError(t, err)
	node, err := NewNode("correction", cfg, corrector, opts...)
	require.NoError(t, err)

	desc := pipeline.NewDescriptor()
	h := desc.AddNode(sinkNode)
	desc.AddNode(node, h)
	p, err := pipeline.Create(desc, pipeline.WithFatalHandler(rec.handle))
	require.NoError(t, err)
	return p, out, rec
}

func genSeq(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = "ACGT"[rng.Intn(4)]
	}
	return string(b)
}

// mutate substitutes one base in every window
func mutate(seq string, window int) string {
	b := []byte(seq)
	for i := 1; i < len(b); i += window {
		switch b[i] {
		case 'A':
			b[i] = 'C'
		default:
			b[i] = 'A'
		}
	}
	return string(b)
}

func support(name, truth string, depth int) []message.Overlap {
	var ovs []message.Overlap
	for i := 0; i < depth; i++ {
		ovs = append(ovs, message.Overlap{
			QName:   fmt.Sprintf("%s_s%d", name, i),
			QStart:  0,
			QEnd:    len(truth),
			QLen:    len(truth),
			TStart:  0,
			TEnd:    len(truth),
			TLen:    len(truth),
			Forward: true,
			Cigar:   []message.CigarOp{{Op: 'M', Len: len(truth)}},
			Seq:     truth,
		})
	}
	return ovs
}

func bundle(name, truth string, window, depth int) *message.CorrectionAlignments {
	return &message.CorrectionAlignments{
		ReadName: name,
		Seq:      mutate(truth, window),
		Overlaps: support(name, truth, depth),
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := testConfig()
	cfg.PoolSlots = cfg.RequiredSlots() - 1
	assert.ErrorIs(t, cfg.Validate(), ErrUndersizedPool)

	_, err := New(cfg, model.NewMajorityCorrector())
	assert.ErrorIs(t, err, ErrUndersizedPool)

	cfg.PoolSlots = cfg.RequiredSlots()
	assert.NoError(t, cfg.Validate())

	bad := []func(*Config){
		func(c *Config) { c.WindowSize = 0 },
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.Devices = nil },
		func(c *Config) { c.MinDepth = 0 },
		func(c *Config) { c.MinDepth = c.MaxDepth },
		func(c *Config) { c.BatchTimeout = 0 },
	}
	for i, mod := range bad {
		c := testConfig()
		mod(&c)
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, "case %d", i)
	}

	_, err = New(testConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRequiredSlots(t *testing.T) {
	cfg := testConfig()
	cfg.Devices = []int{0, 1}
	cfg.InferThreads = 3
	// 4 + 4 queued, 2 feature + 2 decode workers, 6 inference workers with batches of 2
	assert.Equal(t, 4+4+2+2+6*2, cfg.RequiredSlots())
}

func TestCorrectsEveryWindow(t *testing.T) {
	truth := genSeq(rand.New(rand.NewSource(1)), 20)
	p, out, rec := build(t, testConfig(), model.NewMajorityCorrector())

	require.NoError(t, p.PushMessage(bundle("r1", truth, 8, 2)))
	stats := p.Terminate(pipeline.FlushOptions{})

	reads := out.reads()
	require.Len(t, reads, 1)
	got := reads[0]
	assert.Equal(t, "r1", got.ReadName)
	assert.Equal(t, truth, got.Seq)
	assert.Len(t, got.Qual, len(truth))
	assert.Equal(t, message.StatusCorrected, got.Status)
	assert.Equal(t, 3, got.Windows)
	assert.Empty(t, got.UncorrectedSpans)

	assert.Equal(t, 3.0, stats["correction.windows_created"])
	assert.Equal(t, 3.0, stats["correction.windows_decoded"])
	assert.Equal(t, 0.0, stats["correction.reads_pending"])
	assert.Equal(t, stats["correction.base_pool_size"], stats["correction.base_pool_available"])
	assert.Equal(t, stats["correction.qual_pool_size"], stats["correction.qual_pool_available"])
	assert.Empty(t, rec.errs)
}

func TestExactlyOnceEmission(t *testing.T) {
	cfg := testConfig()
	cfg.FeatureThreads = 3
	cfg.DecodeThreads = 3
	cfg.InferThreads = 2
	cfg.BatchSize = 3
	p, out, rec := build(t, cfg, model.NewMajorityCorrector())

	rng := rand.New(rand.NewSource(7))
	const n = 60
	want := make(map[string]string, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("read%02d", i)
		truth := genSeq(rng, rng.Intn(41)) // 0..5 windows, some too short
		want[name] = truth
		require.NoError(t, p.PushMessage(bundle(name, truth, cfg.WindowSize, 2+rng.Intn(2))))
	}
	stats := p.Terminate(pipeline.FlushOptions{})

	reads := out.reads()
	require.Len(t, reads, n)
	seen := make(map[string]int)
	for _, r := range reads {
		seen[r.ReadName]++
		truth := want[r.ReadName]
		if len(truth) < cfg.MinReadLength {
			assert.Equal(t, message.StatusNotCorrected, r.Status)
			continue
		}
		assert.Equal(t, message.StatusCorrected, r.Status, r.ReadName)
		assert.Equal(t, truth, r.Seq, r.ReadName)
	}
	for name := range want {
		assert.Equal(t, 1, seen[name], name)
	}

	assert.Equal(t, stats["correction.windows_created"], stats["correction.windows_decoded"]+stats["correction.windows_failed"])
	assert.Equal(t, stats["correction.base_pool_size"], stats["correction.base_pool_available"])
	assert.Empty(t, rec.errs)
}

// gatedCorrector holds each single-window batch until the test opens the
// gate for that window's first target base
type gatedCorrector struct {
	arrived chan int32
	gates   map[int32]chan struct{}
}

func (g *gatedCorrector) Infer(ctx context.Context, batch []model.Features) ([]model.Prediction, error) {
	code := batch[0].Bases[0]
	g.arrived <- code
	<-g.gates[code]
	return model.NewMajorityCorrector().Infer(ctx, batch)
}

func TestWindowOrderRestored(t *testing.T) {
	truth := "AAAACCCCGGGGTTTT"
	read := func() *message.CorrectionAlignments { return bundle("r", truth, 4, 2) }

	cfg := testConfig()
	cfg.WindowSize = 4
	cfg.BatchSize = 1
	cfg.Devices = []int{0, 1, 2, 3}

	// forward order, ungated
	p, out, _ := build(t, cfg, model.NewMajorityCorrector(), WithLocks(&accel.Locks{}))
	require.NoError(t, p.PushMessage(read()))
	p.Terminate(pipeline.FlushOptions{})
	forward := out.reads()
	require.Len(t, forward, 1)

	gc := &gatedCorrector{arrived: make(chan int32, 4), gates: make(map[int32]chan struct{})}
	for _, b := range []byte("ACGT") {
		gc.gates[model.EncodeBase(b)] = make(chan struct{})
	}
	p, out, rec := build(t, cfg, gc, WithLocks(&accel.Locks{}))
	require.NoError(t, p.PushMessage(read()))

	for i := 0; i < 4; i++ {
		select {
		case <-gc.arrived:
		case <-time.After(5 * time.Second):
			t.Fatal("windows did not reach inference")
		}
	}
	// complete the last window first
	for _, b := range []byte("TGCA") {
		close(gc.gates[model.EncodeBase(b)])
		time.Sleep(10 * time.Millisecond)
	}
	p.Terminate(pipeline.FlushOptions{})

	reversed := out.reads()
	require.Len(t, reversed, 1)
	assert.Equal(t, truth, reversed[0].Seq)
	assert.Equal(t, forward[0].Seq, reversed[0].Seq)
	assert.Equal(t, forward[0].Qual, reversed[0].Qual)
	assert.Empty(t, rec.errs)
}

func TestAssembleSortsByIndex(t *testing.T) {
	read := &message.CorrectionAlignments{ReadName: "r", Seq: "AAAACCCCGG"}
	results := []windowResult{
		{index: 0, span: message.Interval{Start: 0, End: 4}, seq: "aaaa", qual: "IIII", corrected: true},
		{index: 1, span: message.Interval{Start: 4, End: 8}, seq: "cccc", qual: "IIII", corrected: true},
		{index: 2, span: message.Interval{Start: 8, End: 10}, seq: "gg", qual: "II", corrected: true},
	}
	perms := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {2, 0, 1}}
	for _, perm := range perms {
		st := newReadState(read, 3, 3)
		for _, i := range perm {
			st.results = append(st.results, results[i])
		}
		out := assemble(st)
		assert.Equal(t, "aaaaccccgg", out.Seq, "perm %v", perm)
		assert.Equal(t, message.StatusCorrected, out.Status)
	}
}

// failingCorrector fails any batch containing a window that starts with T
type failingCorrector struct{}

func (failingCorrector) Infer(ctx context.Context, batch []model.Features) ([]model.Prediction, error) {
	for _, f := range batch {
		if f.Bases[0] == model.BaseT {
			return nil, errors.New("accelerator fault")
		}
	}
	return model.NewMajorityCorrector().Infer(ctx, batch)
}

func TestFailedWindowKeepsOriginalBases(t *testing.T) {
	truth := "AAAATTTTCCCC"
	cfg := testConfig()
	cfg.WindowSize = 4
	cfg.BatchSize = 1
	p, out, rec := build(t, cfg, failingCorrector{})

	in := bundle("r", truth, 4, 2)
	require.NoError(t, p.PushMessage(in))
	stats := p.Terminate(pipeline.FlushOptions{})

	reads := out.reads()
	require.Len(t, reads, 1)
	got := reads[0]
	assert.Equal(t, message.StatusPartial, got.Status)
	assert.Equal(t, 1, got.FailedWindows)
	assert.Equal(t, []message.Interval{{Start: 4, End: 8}}, got.UncorrectedSpans)
	assert.Equal(t, "AAAA"+in.Seq[4:8]+"CCCC", got.Seq)
	assert.Len(t, got.Qual, len(got.Seq))
	assert.Equal(t, 1.0, stats["correction.windows_failed"])
	assert.Equal(t, 1.0, stats["correction.reads_partial"])
	assert.Empty(t, rec.errs)
}

func TestBypassAndUnusableWindows(t *testing.T) {
	truth := genSeq(rand.New(rand.NewSource(3)), 16)
	cfg := testConfig()
	p, out, _ := build(t, cfg, model.NewMajorityCorrector())

	// too short
	require.NoError(t, p.PushMessage(&message.CorrectionAlignments{ReadName: "short", Seq: "ACG"}))
	// no support at all
	require.NoError(t, p.PushMessage(&message.CorrectionAlignments{ReadName: "alone", Seq: truth, Qual: message.UniformQual(16, 30)}))
	// support for the first window only
	partial := bundle("half", truth, 8, 2)
	for i := range partial.Overlaps {
		partial.Overlaps[i].QEnd = 8
		partial.Overlaps[i].TEnd = 8
		partial.Overlaps[i].Cigar = []message.CigarOp{{Op: 'M', Len: 8}}
	}
	require.NoError(t, p.PushMessage(partial))
	// a message of another kind
	require.NoError(t, p.PushMessage(&message.Record{ReadID: "rec"}))

	p.Terminate(pipeline.FlushOptions{})
	got := out.byName()
	require.Len(t, out.other, 1)

	require.Contains(t, got, "short")
	assert.Equal(t, message.StatusNotCorrected, got["short"].Status)
	assert.Equal(t, "ACG", got["short"].Seq)
	assert.Len(t, got["short"].Qual, 3)

	require.Contains(t, got, "alone")
	assert.Equal(t, message.StatusNotCorrected, got["alone"].Status)
	assert.Equal(t, 2, got["alone"].Windows)
	assert.Equal(t, message.UniformQual(16, 30), got["alone"].Qual)
	assert.NotEmpty(t, got["alone"].Reason)

	require.Contains(t, got, "half")
	h := got["half"]
	assert.Equal(t, message.StatusPartial, h.Status)
	assert.Equal(t, 0, h.FailedWindows)
	assert.Equal(t, truth[:8]+partial.Seq[8:], h.Seq)
	assert.Equal(t, []message.Interval{{Start: 8, End: 16}}, h.UncorrectedSpans)
}

func TestUnsupportedColumnsKeepTargetBases(t *testing.T) {
	// the supports end at column 5; the Ns after it have no coverage
	in := &message.CorrectionAlignments{ReadName: "n", Seq: "ACGTANNN"}
	for _, ov := range support("n", "ACGTA", 2) {
		ov.TLen = len(in.Seq)
		in.Overlaps = append(in.Overlaps, ov)
	}
	p, out, rec := build(t, testConfig(), model.NewMajorityCorrector())
	require.NoError(t, p.PushMessage(in))
	p.Terminate(pipeline.FlushOptions{})

	reads := out.reads()
	require.Len(t, reads, 1)
	got := reads[0]
	assert.Equal(t, message.StatusCorrected, got.Status)
	assert.Equal(t, "ACGTANNN", got.Seq)
	assert.Len(t, got.Qual, len(in.Seq))
	assert.Empty(t, rec.errs)
}

func TestRestartAcceptsNewReads(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	first, second := genSeq(rng, 20), genSeq(rng, 20)
	p, out, rec := build(t, testConfig(), model.NewMajorityCorrector())

	require.NoError(t, p.PushMessage(bundle("first", first, 8, 2)))
	p.Terminate(pipeline.FlushOptions{})
	require.NoError(t, p.Restart())
	require.NoError(t, p.PushMessage(bundle("second", second, 8, 2)))
	stats := p.Terminate(pipeline.FlushOptions{})

	got := out.byName()
	require.Len(t, got, 2)
	assert.Equal(t, first, got["first"].Seq)
	assert.Equal(t, second, got["second"].Seq)
	assert.Equal(t, message.StatusCorrected, got["second"].Status)
	assert.Equal(t, 6.0, stats["correction.windows_decoded"])
	assert.Equal(t, 0.0, stats["correction.reads_pending"])
	assert.Equal(t, stats["correction.base_pool_size"], stats["correction.base_pool_available"])
	assert.Empty(t, rec.errs)
}

func TestUnknownKindForwarded(t *testing.T) {
	var forwarded []message.Message
	proc, err := New(testConfig(), model.NewMajorityCorrector())
	require.NoError(t, err)
	emit := &captureEmitter{fn: func(m message.Message) { forwarded = append(forwarded, m) }}
	rec := &message.Record{ReadID: "x"}
	proc.Process(rec, emit)
	assert.Equal(t, []message.Message{rec}, forwarded)
}

type captureEmitter struct {
	mu sync.Mutex
	fn func(message.Message)
}

func (c *captureEmitter) Emit(m message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn(m)
}

func (c *captureEmitter) EmitTo(_ int, m message.Message) { c.Emit(m) }

func TestReverseStrandSupport(t *testing.T) {
	truth := genSeq(rand.New(rand.NewSource(11)), 12)
	in := bundle("r", truth, 8, 2)
	for i := range in.Overlaps {
		in.Overlaps[i].Forward = false
		in.Overlaps[i].Seq = message.ReverseComplement(truth)
	}

	p, out, _ := build(t, testConfig(), model.NewMajorityCorrector())
	require.NoError(t, p.PushMessage(in))
	p.Terminate(pipeline.FlushOptions{})

	reads := out.reads()
	require.Len(t, reads, 1)
	assert.Equal(t, truth, reads[0].Seq)
}

func TestPartialBatchFlushedAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 64
	cfg.BatchTimeout = 10 * time.Millisecond
	p, out, _ := build(t, cfg, model.NewMajorityCorrector())
	defer p.Terminate(pipeline.FlushOptions{})

	truth := genSeq(rand.New(rand.NewSource(5)), 10)
	require.NoError(t, p.PushMessage(bundle("r", truth, 8, 2)))

	assert.Eventually(t, func() bool { return len(out.reads()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

// countingCorrector records how many Infer calls overlap
type countingCorrector struct {
	active, peak atomic.Int32
}

func (c *countingCorrector) Infer(ctx context.Context, batch []model.Features) ([]model.Prediction, error) {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	c.active.Add(-1)
	return model.NewMajorityCorrector().Infer(ctx, batch)
}

func TestInferenceSerializedPerDevice(t *testing.T) {
	cfg := testConfig()
	cfg.InferThreads = 4
	cfg.BatchSize = 1
	cc := &countingCorrector{}
	p, out, _ := build(t, cfg, cc, WithLocks(&accel.Locks{}))

	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 10; i++ {
		require.NoError(t, p.PushMessage(bundle(fmt.Sprintf("r%d", i), genSeq(rng, 32), 8, 2)))
	}
	p.Terminate(pipeline.FlushOptions{})

	assert.Len(t, out.reads(), 10)
	assert.Equal(t, int32(1), cc.peak.Load())
}

func TestExhaustedPoolIsFatalButReadStillEmitted(t *testing.T) {
	cfg := testConfig()
	proc, err := New(cfg, model.NewMajorityCorrector())
	require.NoError(t, err)

	var mu sync.Mutex
	var emitted []message.Message
	var fatal []error
	emit := &captureEmitter{fn: func(m message.Message) { emitted = append(emitted, m) }}
	require.NoError(t, proc.Start(pipeline.Runtime{
		Name: "correction",
		Emit: emit,
		Fatal: func(err error) {
			mu.Lock()
			fatal = append(fatal, err)
			mu.Unlock()
		},
	}))

	var held [][]int32
	for {
		buf, err := proc.basePool.Acquire()
		if err != nil {
			break
		}
		held = append(held, buf)
	}

	truth := genSeq(rand.New(rand.NewSource(2)), 16)
	in := bundle("r", truth, 8, 2)
	proc.Process(in, emit)
	require.NoError(t, proc.Drain(pipeline.FlushOptions{}))

	mu.Lock()
	require.Len(t, fatal, 2)
	mu.Unlock()
	assert.ErrorIs(t, fatal[0], pool.ErrExhausted)

	require.Len(t, emitted, 1)
	got := emitted[0].(*message.CorrectedRead)
	assert.Equal(t, message.StatusNotCorrected, got.Status)
	assert.Equal(t, 2, got.FailedWindows)
	assert.Equal(t, in.Seq, got.Seq)

	for _, buf := range held {
		proc.basePool.Release(buf)
	}
	assert.Equal(t, proc.basePool.Size(), proc.basePool.Free())
	assert.Equal(t, proc.qualPool.Size(), proc.qualPool.Free())
}

package nodes

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/hts"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// Sink is an output destination. *hts.Output implements it.
type Sink interface {
	io.Writer
	Flush() error
	Close() error
}

// Opener opens a fresh sink. It is called when the stage starts without an
// open sink: on first start and after a drain that closed the output.
type Opener func() (Sink, error)

// FileOpener opens path through codec c
func FileOpener(path string, c hts.Compression) Opener {
	return func() (Sink, error) {
		return hts.Create(path, c)
	}
}

// output serialises writes from many workers into one sink and owns its
// open, flush and close lifecycle
type output struct {
	open   Opener
	header []byte

	mu  sync.Mutex
	out Sink

	bytes atomic.Int64
	errs  atomic.Int64
}

func (o *output) start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.out != nil {
		return nil
	}
	out, err := o.open()
	if err != nil {
		return err
	}
	o.out = out
	if len(o.header) > 0 {
		if _, err := out.Write(o.header); err != nil {
			return err
		}
		o.bytes.Add(int64(len(o.header)))
	}
	return nil
}

func (o *output) write(p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.out == nil {
		o.errs.Add(1)
		return ErrNoOutput
	}
	n, err := o.out.Write(p)
	o.bytes.Add(int64(n))
	if err != nil {
		o.errs.Add(1)
	}
	return err
}

// drain flushes the sink and closes it unless the output is preserved
func (o *output) drain(opts pipeline.FlushOptions) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.out == nil {
		return nil
	}
	err := o.out.Flush()
	if !opts.PreserveOutput {
		err = errors.Join(err, o.out.Close())
		o.out = nil
	}
	return err
}

func (o *output) stats(into map[string]float64) {
	into["bytes_written"] = float64(o.bytes.Load())
	into["write_errors"] = float64(o.errs.Load())
}

// Writer is the terminal stage of the basecall and correction chains. It
// writes every Record it receives; the header, if any, starts each newly
// opened output.
type Writer struct {
	output
	logger  *logging.Logger
	records atomic.Int64
}

// NewWriter creates a writer stage
func NewWriter(open Opener, header []byte) *Writer {
	return &Writer{output: output{open: open, header: header}, logger: logging.NewNop()}
}

func (w *Writer) Start(rt pipeline.Runtime) error {
	if rt.Logger != nil {
		w.logger = rt.Logger
	}
	return w.start()
}

func (w *Writer) Drain(opts pipeline.FlushOptions) error {
	return w.drain(opts)
}

func (w *Writer) Process(msg message.Message, emit pipeline.Emitter) {
	rec, ok := msg.(*message.Record)
	if !ok {
		emit.Emit(msg)
		return
	}
	if err := w.write(rec.Data); err != nil {
		w.logger.Error("write failed", logging.ReadID(rec.ReadID), zap.Error(err))
		return
	}
	w.records.Add(1)
}

func (w *Writer) Stats() map[string]float64 {
	stats := map[string]float64{"records_written": float64(w.records.Load())}
	w.stats(stats)
	return stats
}

// PafWriter writes correction overlaps as PAF instead of correcting them
type PafWriter struct {
	output
	logger *logging.Logger
	reads  atomic.Int64
	lines  atomic.Int64
}

// NewPafWriter creates a PAF sink stage
func NewPafWriter(open Opener) *PafWriter {
	return &PafWriter{output: output{open: open}, logger: logging.NewNop()}
}

func (w *PafWriter) Start(rt pipeline.Runtime) error {
	if rt.Logger != nil {
		w.logger = rt.Logger
	}
	return w.start()
}

func (w *PafWriter) Drain(opts pipeline.FlushOptions) error {
	return w.drain(opts)
}

func (w *PafWriter) Process(msg message.Message, emit pipeline.Emitter) {
	a, ok := msg.(*message.CorrectionAlignments)
	if !ok {
		emit.Emit(msg)
		return
	}
	if err := w.write(hts.AppendPAF(nil, a)); err != nil {
		w.logger.Error("paf write failed", logging.ReadID(a.ReadName), zap.Error(err))
		return
	}
	w.reads.Add(1)
	w.lines.Add(int64(len(a.Overlaps)))
}

func (w *PafWriter) Stats() map[string]float64 {
	stats := map[string]float64{
		"reads_written":    float64(w.reads.Load()),
		"overlaps_written": float64(w.lines.Load()),
	}
	w.stats(stats)
	return stats
}

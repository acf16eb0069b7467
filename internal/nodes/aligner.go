package nodes

import (
	"sync/atomic"

	"github.com/GriffinCanCode/readpipe/internal/align"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// Aligner places reads on the reference
type Aligner struct {
	aligner *align.Aligner

	mapped    atomic.Int64
	unmapped  atomic.Int64
	secondary atomic.Int64
}

// NewAligner creates the stage over an indexed reference
func NewAligner(idx *align.Index, opts align.Options) *Aligner {
	return &Aligner{aligner: align.NewAligner(idx, opts)}
}

func (a *Aligner) Process(msg message.Message, emit pipeline.Emitter) {
	r, ok := msg.(*message.Read)
	if !ok {
		emit.Emit(msg)
		return
	}
	r.Alignments = a.aligner.Align(r.Seq)
	if len(r.Alignments) == 0 {
		a.unmapped.Add(1)
	} else {
		a.mapped.Add(1)
		a.secondary.Add(int64(len(r.Alignments) - 1))
	}
	emit.Emit(r)
}

func (a *Aligner) Stats() map[string]float64 {
	return map[string]float64{
		"reads_mapped":         float64(a.mapped.Load()),
		"reads_unmapped":       float64(a.unmapped.Load()),
		"secondary_alignments": float64(a.secondary.Load()),
	}
}

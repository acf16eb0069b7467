package nodes

import (
	"sync/atomic"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
	"github.com/GriffinCanCode/readpipe/internal/polytail"
)

// PolyTail annotates reads with their estimated poly(A) or poly(T) tail
// length. Reads without a tail keep a length of zero.
type PolyTail struct {
	est *polytail.Estimator

	estimated atomic.Int64
	missing   atomic.Int64
	tailBases atomic.Int64
}

// NewPolyTail creates the stage. rna selects the poly(A)-at-end search.
func NewPolyTail(cfg polytail.Config, rna bool) *PolyTail {
	return &PolyTail{est: polytail.New(cfg, rna)}
}

func (p *PolyTail) Process(msg message.Message, emit pipeline.Emitter) {
	r, ok := msg.(*message.Read)
	if !ok {
		emit.Emit(msg)
		return
	}
	if res, found := p.est.Estimate(r); found {
		r.PolyTailLength = res.Length
		p.estimated.Add(1)
		p.tailBases.Add(int64(res.Length))
	} else {
		p.missing.Add(1)
	}
	emit.Emit(r)
}

func (p *PolyTail) Stats() map[string]float64 {
	stats := map[string]float64{
		"reads_estimated": float64(p.estimated.Load()),
		"reads_not_found": float64(p.missing.Load()),
	}
	if n := p.estimated.Load(); n > 0 {
		stats["mean_tail_length"] = float64(p.tailBases.Load()) / float64(n)
	}
	return stats
}

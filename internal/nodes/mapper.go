package nodes

import (
	"fmt"
	"sync/atomic"

	"github.com/GriffinCanCode/readpipe/internal/align"
	"github.com/GriffinCanCode/readpipe/internal/hts"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// CorrectionMapper overlaps every incoming read against an in-memory index
// of the whole read set and emits the read with its supporting overlaps.
// Reads missing from the index are emitted without support.
type CorrectionMapper struct {
	overlapper *align.Overlapper
	byName     map[string]int
	reads      []hts.Record

	mapped    atomic.Int64
	unindexed atomic.Int64
	overlaps  atomic.Int64
}

// NewCorrectionMapper indexes reads with k-mers of length k. Read names
// must be unique.
func NewCorrectionMapper(reads []hts.Record, k int, opts align.OverlapOptions) (*CorrectionMapper, error) {
	byName := make(map[string]int, len(reads))
	targets := make([]align.Target, len(reads))
	for i, r := range reads {
		if _, dup := byName[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate read name %q", ErrInvalidOptions, r.ID)
		}
		byName[r.ID] = i
		targets[i] = align.Target{Name: r.ID, Seq: r.Seq}
	}
	ov, err := align.NewOverlapper(targets, k, opts)
	if err != nil {
		return nil, err
	}
	return &CorrectionMapper{overlapper: ov, byName: byName, reads: reads}, nil
}

func (m *CorrectionMapper) Process(msg message.Message, emit pipeline.Emitter) {
	r, ok := msg.(*message.Read)
	if !ok {
		emit.Emit(msg)
		return
	}
	out := &message.CorrectionAlignments{ReadName: r.ReadID, Seq: r.Seq, Qual: r.Qual}

	t, ok := m.byName[r.ReadID]
	if !ok {
		m.unindexed.Add(1)
		emit.Emit(out)
		return
	}
	out.Overlaps = m.overlapper.Overlaps(t)
	for i := range out.Overlaps {
		support := m.reads[m.byName[out.Overlaps[i].QName]]
		out.Overlaps[i].Seq = support.Seq
		out.Overlaps[i].Qual = support.Qual
	}
	m.mapped.Add(1)
	m.overlaps.Add(int64(len(out.Overlaps)))
	emit.Emit(out)
}

func (m *CorrectionMapper) Stats() map[string]float64 {
	stats := map[string]float64{
		"reads_indexed":   float64(len(m.reads)),
		"reads_mapped":    float64(m.mapped.Load()),
		"reads_unindexed": float64(m.unindexed.Load()),
		"overlaps":        float64(m.overlaps.Load()),
	}
	if n := m.mapped.Load(); n > 0 {
		stats["mean_overlaps"] = float64(m.overlaps.Load()) / float64(n)
	}
	return stats
}

package correction

import (
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
)

// confidence used for bases without a quality string
const defaultConfidence = 0.9

// projection is one supporting read laid over the target columns it covers
type projection struct {
	start int // first target column
	bases []int32
	quals []float32
}

func (p projection) end() int {
	return p.start + len(p.bases)
}

// covers returns how many columns of [start, end) the projection spans
func (p projection) covers(start, end int) int {
	lo, hi := max(start, p.start), min(end, p.end())
	if hi < lo {
		return 0
	}
	return hi - lo
}

// project walks an overlap's CIGAR and records, for every target column it
// spans, the aligned supporting base or a gap. Insertions relative to the
// target are dropped. For reverse overlaps the CIGAR aligns the reverse
// complement of the supporting read.
func project(ov message.Overlap) (projection, bool) {
	if ov.QStart < 0 || ov.QEnd > len(ov.Seq) || ov.QStart >= ov.QEnd || ov.TEnd <= ov.TStart {
		return projection{}, false
	}
	query := ov.Seq[ov.QStart:ov.QEnd]
	var qual string
	if len(ov.Qual) == len(ov.Seq) {
		qual = ov.Qual[ov.QStart:ov.QEnd]
	}
	if !ov.Forward {
		query = message.ReverseComplement(query)
		qual = message.Reverse(qual)
	}

	p := projection{
		start: ov.TStart,
		bases: make([]int32, ov.TEnd-ov.TStart),
		quals: make([]float32, ov.TEnd-ov.TStart),
	}
	conf := func(q int) float32 {
		if q < 0 {
			q = 0
		}
		if qual == "" || q >= len(qual) {
			return defaultConfidence
		}
		return float32(1 - message.PhredToErrorProb(qual[q]))
	}

	col, q := 0, 0
	for _, op := range ov.Cigar {
		switch {
		case op.ConsumesQuery() && op.ConsumesTarget():
			for i := 0; i < op.Len && col < len(p.bases) && q < len(query); i++ {
				p.bases[col] = model.EncodeBase(query[q])
				p.quals[col] = conf(q)
				col++
				q++
			}
		case op.ConsumesTarget():
			for i := 0; i < op.Len && col < len(p.bases); i++ {
				p.bases[col] = model.BaseGap
				p.quals[col] = conf(q - 1)
				col++
			}
		case op.ConsumesQuery():
			q += op.Len
		}
	}
	if col == 0 {
		return projection{}, false
	}
	p.bases = p.bases[:col]
	p.quals = p.quals[:col]
	return p, true
}

// plan is the windowing of one read
type plan struct {
	read    *message.CorrectionAlignments
	spans   []message.Interval
	support [][]int // per window, indices into projs of supporting rows
	projs   []projection
	usable  int
}

// planWindows splits the target into windows and picks up to maxDepth-1
// supporting projections for each. A projection supports a window when it
// spans at least half of it.
func planWindows(read *message.CorrectionAlignments, cfg Config) plan {
	n := len(read.Seq)
	pl := plan{read: read}
	for start := 0; start < n; start += cfg.WindowSize {
		pl.spans = append(pl.spans, message.Interval{Start: start, End: min(start+cfg.WindowSize, n)})
	}

	for _, ov := range read.Overlaps {
		if ov.TEnd > n {
			continue
		}
		if p, ok := project(ov); ok {
			pl.projs = append(pl.projs, p)
		}
	}

	pl.support = make([][]int, len(pl.spans))
	for w, span := range pl.spans {
		need := (span.Len() + 1) / 2
		for i, p := range pl.projs {
			if len(pl.support[w]) == cfg.MaxDepth-1 {
				break
			}
			if p.covers(span.Start, span.End) >= need {
				pl.support[w] = append(pl.support[w], i)
			}
		}
		if len(pl.support[w]) >= cfg.MinDepth {
			pl.usable++
		}
	}
	return pl
}

func (pl plan) isUsable(w int, cfg Config) bool {
	return len(pl.support[w]) >= cfg.MinDepth
}

// fill writes the pileup of window w into the pooled buffers and returns the
// features view over them. Columns a row does not cover stay BasePad.
func (pl plan) fill(w int, bases []int32, quals []float32) model.Features {
	span := pl.spans[w]
	rows, cols := 1+len(pl.support[w]), span.Len()
	f := model.Features{
		Bases: bases[:rows*cols],
		Quals: quals[:rows*cols],
		Rows:  rows,
		Cols:  cols,
	}

	target := pl.read
	for c := 0; c < cols; c++ {
		t := span.Start + c
		f.Bases[c] = model.EncodeBase(target.Seq[t])
		f.Quals[c] = defaultConfidence
		if len(target.Qual) == len(target.Seq) {
			f.Quals[c] = float32(1 - message.PhredToErrorProb(target.Qual[t]))
		}
	}

	for r, idx := range pl.support[w] {
		p := pl.projs[idx]
		row := (r + 1) * cols
		lo, hi := max(span.Start, p.start), min(span.End, p.end())
		for t := lo; t < hi; t++ {
			f.Bases[row+t-span.Start] = p.bases[t-p.start]
			f.Quals[row+t-span.Start] = p.quals[t-p.start]
		}
	}
	return f
}

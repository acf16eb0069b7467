package align

import (
	"sort"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

// OverlapOptions tunes all-vs-all read overlapping.
type OverlapOptions struct {
	Options
	MinOverlap  int // bases shared by both reads
	MaxOverlaps int // per target, best first; 0 keeps all
}

// Overlapper finds reads overlapping each other within one read set. It is
// safe for concurrent use.
type Overlapper struct {
	idx  *Index
	opts OverlapOptions
}

// NewOverlapper indexes reads for overlapping.
func NewOverlapper(reads []Target, k int, opts OverlapOptions) (*Overlapper, error) {
	idx, err := NewIndex(reads, k)
	if err != nil {
		return nil, err
	}
	return &Overlapper{idx: idx, opts: opts}, nil
}

// Index returns the underlying read index.
func (o *Overlapper) Index() *Index { return o.idx }

// Overlaps returns the reads overlapping read t, aligned against it. For a
// reverse overlap the CIGAR aligns the reverse complement of the supporting
// span to the target.
func (o *Overlapper) Overlaps(t int) []message.Overlap {
	target := o.idx.targets[t].Seq
	rc := message.ReverseComplement(target)

	type found struct {
		ov    message.Overlap
		seeds int
	}
	var out []found

	for _, reverse := range []bool{false, true} {
		query := target
		if reverse {
			query = rc
		}
		for _, c := range o.idx.chains(query, o.opts.MaxOcc, o.opts.BandWidth) {
			if c.target == t || c.seeds < o.opts.MinSeeds {
				continue
			}
			ov, ok := o.overlap(query, c, reverse)
			if !ok {
				continue
			}
			out = append(out, found{ov: ov, seeds: c.seeds})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].seeds > out[j].seeds })
	if o.opts.MaxOverlaps > 0 && len(out) > o.opts.MaxOverlaps {
		out = out[:o.opts.MaxOverlaps]
	}
	// one overlap per supporting read
	seen := make(map[string]struct{}, len(out))
	ovs := make([]message.Overlap, 0, len(out))
	for _, f := range out {
		if _, dup := seen[f.ov.QName]; dup {
			continue
		}
		seen[f.ov.QName] = struct{}{}
		ovs = append(ovs, f.ov)
	}
	return ovs
}

// overlap aligns the supporting span implied by chain c onto the target
// sequence as seen by the query (the target or its reverse complement). The
// chain diagonal is support position minus query position.
func (o *Overlapper) overlap(query string, c chain, reverse bool) (message.Overlap, bool) {
	support := o.idx.targets[c.target]
	d := c.diag()
	qs := max(0, -d)
	qe := min(len(query), len(support.Seq)-d)
	if qe-qs < o.opts.MinOverlap {
		return message.Overlap{}, false
	}
	ss, se := qs+d, qe+d

	pad := padFor(se-ss, o.opts.BandWidth)
	lo := max(qs-pad, 0)
	hi := min(qe+pad, len(query))
	p, ok := Glocal(support.Seq[ss:se], query[lo:hi], pad)
	if !ok || float64(p.Edits) > o.opts.MaxEditRate*float64(se-ss) {
		return message.Overlap{}, false
	}
	tStart, tEnd := lo+p.RefStart, lo+p.RefEnd
	if tEnd-tStart < o.opts.MinOverlap {
		return message.Overlap{}, false
	}

	ov := message.Overlap{
		QName:   support.Name,
		QStart:  ss,
		QEnd:    se,
		QLen:    len(support.Seq),
		TLen:    len(query),
		TStart:  tStart,
		TEnd:    tEnd,
		Forward: !reverse,
		Cigar:   p.Cigar,
	}
	if reverse {
		// mirror onto the forward target and complement the support instead
		ov.TStart, ov.TEnd = len(query)-tEnd, len(query)-tStart
		ov.Cigar = ReverseCigar(p.Cigar)
	}
	return ov, true
}

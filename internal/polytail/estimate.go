package polytail

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/readpipe/internal/align"
	"github.com/GriffinCanCode/readpipe/internal/message"
)

// Result describes an estimated tail.
type Result struct {
	Length   int              // estimated from signal dwell time
	Bases    message.Interval // called tail bases
	TailBase byte
}

// Estimator finds poly(A) or poly(T) tails. It is safe for concurrent use.
type Estimator struct {
	cfg Config
	rna bool
}

// New creates an estimator. RNA reads carry a poly(A) tail at the sequence
// end and need no primers.
func New(cfg Config, rna bool) *Estimator {
	return &Estimator{cfg: cfg, rna: rna}
}

// Estimate returns the tail of r, if one was found.
func (e *Estimator) Estimate(r *message.Read) (Result, bool) {
	seq := strings.ToUpper(r.Seq)
	if len(seq) == 0 {
		return Result{}, false
	}

	var (
		tail  message.Interval
		base  byte
		found bool
	)
	if e.rna {
		base = 'A'
		tail, found = e.before(seq, base, len(seq))
	} else {
		tail, base, found = e.cdna(seq)
	}
	if !found {
		return Result{}, false
	}

	n := e.length(r, tail)
	if n < e.cfg.Tail.MinBases {
		return Result{}, false
	}
	return Result{Length: n, Bases: tail, TailBase: base}, true
}

// cdna works out strand from whichever primer starts the read.
func (e *Estimator) cdna(seq string) (message.Interval, byte, bool) {
	a := e.cfg.Anchors
	w := min(len(seq), a.SearchWindow)
	front := seq[:w]
	rearOffset := len(seq) - w
	rear := seq[rearOffset:]

	fwd := align.Infix(a.FrontPrimer, front)
	rev := align.Infix(a.RearPrimer, front)
	fwdScore := align.Score(fwd.Dist, len(a.FrontPrimer))
	revScore := align.Score(rev.Dist, len(a.RearPrimer))
	if max(fwdScore, revScore) < e.cfg.Tail.PrimerScore {
		return message.Interval{}, 0, false
	}

	if fwdScore >= revScore {
		// poly(A) runs into the reverse-complemented rear primer
		anchor := len(seq)
		rc := message.ReverseComplement(a.RearPrimer)
		if m := align.Infix(rc, rear); align.Score(m.Dist, len(rc)) >= e.cfg.Tail.PrimerScore {
			anchor = rearOffset + m.Start
		}
		tail, ok := e.before(seq, 'A', anchor)
		return tail, 'A', ok
	}
	tail, ok := e.after(seq, 'T', rev.End)
	return tail, 'T', ok
}

// runs returns the stretches of base in seq, merging those separated by at
// most the configured interruption.
func (e *Estimator) runs(seq string, base byte) []message.Interval {
	var out []message.Interval
	for i := 0; i < len(seq); {
		if seq[i] != base {
			i++
			continue
		}
		j := i
		for j < len(seq) && seq[j] == base {
			j++
		}
		if n := len(out); n > 0 && i-out[n-1].End <= e.cfg.Tail.InterruptLength {
			out[n-1].End = j
		} else {
			out = append(out, message.Interval{Start: i, End: j})
		}
		i = j
	}
	return out
}

// before finds the run closest to anchor that ends within MaxGap of it.
func (e *Estimator) before(seq string, base byte, anchor int) (message.Interval, bool) {
	runs := e.runs(seq, base)
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if r.Start >= anchor {
			continue
		}
		if anchor-r.End > e.cfg.Tail.MaxGap {
			break
		}
		r.End = min(r.End, anchor)
		return r, true
	}
	return message.Interval{}, false
}

// after finds the run closest to anchor that starts within MaxGap of it.
func (e *Estimator) after(seq string, base byte, anchor int) (message.Interval, bool) {
	for _, r := range e.runs(seq, base) {
		if r.End <= anchor {
			continue
		}
		if r.Start-anchor > e.cfg.Tail.MaxGap {
			break
		}
		r.Start = max(r.Start, anchor)
		return r, true
	}
	return message.Interval{}, false
}

// length converts the tail's signal dwell into bases using the median dwell
// of the rest of the read. Without a move table the called bases are counted.
func (e *Estimator) length(r *message.Read, tail message.Interval) int {
	if len(r.Moves) == 0 || r.ModelStride <= 0 {
		return tail.Len()
	}
	signalLen := len(r.Signal)
	if signalLen == 0 {
		signalLen = len(r.Moves) * r.ModelStride
	}
	spans := message.BaseSpans(r.Moves, r.ModelStride, signalLen)
	if len(spans) != len(r.Seq) || tail.Len() == 0 {
		return tail.Len()
	}
	if r.IsRNA {
		// RNA sequence runs opposite to the signal
		tail = message.Interval{Start: len(spans) - tail.End, End: len(spans) - tail.Start}
	}

	dwell := make([]float64, 0, len(spans))
	for i, s := range spans {
		if i >= tail.Start && i < tail.End {
			continue
		}
		if s.Len() > 0 {
			dwell = append(dwell, float64(s.Len()))
		}
	}
	if len(dwell) == 0 {
		return tail.Len()
	}
	sort.Float64s(dwell)
	perBase := stat.Quantile(0.5, stat.Empirical, dwell, nil)
	if perBase <= 0 {
		return tail.Len()
	}

	samples := spans[tail.End-1].End - spans[tail.Start].Start
	return int(math.Round(float64(samples) / perBase))
}

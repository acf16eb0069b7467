package correction

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
)

var errPredictionShape = errors.New("prediction does not match window width")

// readState is the completion entry of a read with windows in flight
type readState struct {
	read        *message.CorrectionAlignments
	windows     int
	outstanding int
	results     []windowResult
}

func newReadState(read *message.CorrectionAlignments, windows, usable int) *readState {
	return &readState{
		read:        read,
		windows:     windows,
		outstanding: usable,
		results:     make([]windowResult, 0, windows),
	}
}

// windowResult is the decoded subsequence for one window
type windowResult struct {
	index     int
	span      message.Interval
	seq       string
	qual      string
	corrected bool
	failed    bool
}

// original keeps a window's input bases
func original(read *message.CorrectionAlignments, index int, span message.Interval, failed bool) windowResult {
	return windowResult{
		index:  index,
		span:   span,
		seq:    read.Seq[span.Start:span.End],
		qual:   qualOrDefault(read.Qual, len(read.Seq))[span.Start:span.End],
		failed: failed,
	}
}

// qualOrDefault returns qual, or a flat q10 string when the read has none
func qualOrDefault(qual string, n int) string {
	if len(qual) == n {
		return qual
	}
	return message.UniformQual(n, 10)
}

// decode turns a window's prediction into bases, dropping gap columns
func (p *Processor) decode(w *window) windowResult {
	if w.err == nil && (len(w.pred.Bases) != w.span.Len() || len(w.pred.Probs) != w.span.Len()) {
		w.err = fmt.Errorf("%w: %d columns, %d predicted", errPredictionShape, w.span.Len(), len(w.pred.Bases))
	}
	if w.err != nil {
		p.windowsFailed.Add(1)
		return windowResult{index: w.index, span: w.span, failed: true}
	}

	var seq, qual strings.Builder
	seq.Grow(len(w.pred.Bases))
	qual.Grow(len(w.pred.Bases))
	for c, code := range w.pred.Bases {
		b := model.DecodeBase(code)
		if b == 0 {
			continue
		}
		seq.WriteByte(b)
		qual.WriteByte(message.PhredChar(int(message.ErrorProbToPhred(1 - float64(w.pred.Probs[c])))))
	}
	p.windowsDecoded.Add(1)
	return windowResult{index: w.index, span: w.span, seq: seq.String(), qual: qual.String(), corrected: true}
}

// complete records one finished window. The caller that finishes the last
// outstanding window emits the read.
func (p *Processor) complete(read string, res windowResult) {
	p.mu.Lock()
	st, ok := p.pending[read]
	if !ok {
		p.mu.Unlock()
		p.raise(fmt.Errorf("window %d completed for unknown read %s", res.index, read))
		return
	}
	if res.failed {
		res = original(st.read, res.index, res.span, true)
	}
	st.results = append(st.results, res)
	st.outstanding--
	done := st.outstanding == 0
	if done {
		delete(p.pending, read)
	}
	p.mu.Unlock()

	if !done {
		return
	}
	p.pendingReads.Add(-1)

	out := assemble(st)
	switch out.Status {
	case message.StatusCorrected:
		p.readsCorrected.Add(1)
	case message.StatusPartial:
		p.readsPartial.Add(1)
	}
	p.rt.Emit.Emit(out)
}

// assemble concatenates window results in window order
func assemble(st *readState) *message.CorrectedRead {
	sort.Slice(st.results, func(i, j int) bool {
		return st.results[i].index < st.results[j].index
	})

	out := &message.CorrectedRead{
		ReadName: st.read.ReadName,
		Windows:  st.windows,
	}
	var seq, qual strings.Builder
	corrected := 0
	for _, r := range st.results {
		seq.WriteString(r.seq)
		qual.WriteString(r.qual)
		if r.failed {
			out.FailedWindows++
		}
		if r.corrected {
			corrected++
			continue
		}
		if n := len(out.UncorrectedSpans); n > 0 && out.UncorrectedSpans[n-1].End == r.span.Start {
			out.UncorrectedSpans[n-1].End = r.span.End
		} else {
			out.UncorrectedSpans = append(out.UncorrectedSpans, r.span)
		}
	}
	out.Seq, out.Qual = seq.String(), qual.String()

	switch {
	case corrected == len(st.results):
		out.Status = message.StatusCorrected
	case corrected == 0:
		out.Status = message.StatusNotCorrected
		out.Reason = "no window was corrected"
	default:
		out.Status = message.StatusPartial
	}
	return out
}

package barcode

import (
	"strings"

	"github.com/GriffinCanCode/readpipe/internal/align"
	"github.com/GriffinCanCode/readpipe/internal/message"
)

// Unclassified is reported for reads no barcode could be assigned to.
const Unclassified = "unclassified"

const (
	// windowPad is searched beyond the expected barcode context at each end.
	windowPad = 75
	// barcodeSlack widens the barcode region located by the flanks.
	barcodeSlack = 5
	// minBarcodeScore is the lowest accepted best barcode score.
	minBarcodeScore = 0.7
	// minScoreGap separates the best barcode from the runner-up.
	minScoreGap = 0.05
	// FlankScoreThreshold gates trimming at a flank.
	FlankScoreThreshold = 0.6
)

// Options selects how reads are classified.
type Options struct {
	BothEnds bool
	Allowed  map[string]struct{} // standard names; empty allows all
}

// Classifier assigns reads to barcodes of one kit. It is safe for
// concurrent use.
type Classifier struct {
	kit  *Kit
	opts Options
}

// NewClassifier creates a classifier for kit.
func NewClassifier(kit *Kit, opts Options) *Classifier {
	return &Classifier{kit: kit, opts: opts}
}

// Kit returns the classifier's kit.
func (c *Classifier) Kit() *Kit { return c.kit }

type side struct {
	flankScore float64
	barcode    int
	score      float64
	runnerUp   float64
	pos        message.Interval
}

// Classify scores seq against every barcode of the kit.
func (c *Classifier) Classify(seq string) message.BarcodeResult {
	seq = strings.ToUpper(seq)
	res := message.BarcodeResult{Kit: Unclassified, Barcode: Unclassified, DoubleEnds: c.kit.DoubleEnds}

	top := c.search(seq, c.kit.TopFront, c.kit.TopRear, false, true)
	res.TopFlankScore, res.TopPos = top.flankScore, top.pos
	chosen := top
	res.UseTop = true

	if c.kit.DoubleEnds {
		bottom := c.search(seq, c.kit.BottomFront, c.kit.BottomRear, true, false)
		res.BottomFlankScore, res.BottomPos = bottom.flankScore, bottom.pos
		if c.opts.BothEnds && (top.barcode != bottom.barcode || !accepted(top) || !accepted(bottom)) {
			res.Score = min(top.score, bottom.score)
			return res
		}
		if bottom.score > top.score {
			chosen = bottom
			res.UseTop = false
		}
	}

	res.Score = chosen.score
	if !accepted(chosen) {
		return res
	}
	name := StandardName(c.kit.Name, c.kit.Barcodes[chosen.barcode].Name)
	if len(c.opts.Allowed) > 0 {
		if _, ok := c.opts.Allowed[name]; !ok {
			return res
		}
	}
	res.Kit = c.kit.Name
	res.Barcode = name
	return res
}

func accepted(s side) bool {
	return s.barcode >= 0 && s.score >= minBarcodeScore && s.score-s.runnerUp >= minScoreGap
}

// search locates the flanked barcode near one end of seq and scores every
// barcode in the region between the flanks.
func (c *Classifier) search(seq, front, rear string, reverse, atStart bool) side {
	width := c.kit.BarcodeLen()
	pattern := front + strings.Repeat("N", width) + rear
	span := min(len(seq), len(pattern)+windowPad)
	offset := 0
	if !atStart {
		offset = len(seq) - span
	}
	window := seq[offset : offset+span]

	flank := align.Infix(pattern, window)
	out := side{barcode: -1, flankScore: align.Score(flank.Dist, len(front)+len(rear))}

	// the expected barcode sits after the front flank, allowing for indels
	lo := max(flank.Start+len(front)-barcodeSlack, 0)
	hi := min(flank.Start+len(front)+width+barcodeSlack, len(window))
	if hi <= lo {
		return out
	}
	region := window[lo:hi]

	for i, bc := range c.kit.Barcodes {
		target := bc.Sequence
		if reverse {
			target = revcomp(target)
		}
		m := align.Infix(target, region)
		s := align.Score(m.Dist, width)
		switch {
		case s > out.score:
			out.runnerUp = out.score
			out.score, out.barcode = s, i
			out.pos = message.Interval{Start: offset + lo + m.Start, End: offset + lo + m.End}
		case s > out.runnerUp:
			out.runnerUp = s
		}
	}
	return out
}

// TrimInterval returns the part of a read of length n to keep after removing
// barcodes whose flanks were confidently found.
func TrimInterval(res message.BarcodeResult, n int) message.Interval {
	keep := message.Interval{Start: 0, End: n}
	if res.Kit == Unclassified {
		return keep
	}

	if res.TopFlankScore > FlankScoreThreshold {
		keep.Start = res.TopPos.End
	}
	if res.DoubleEnds {
		if res.BottomFlankScore > FlankScoreThreshold {
			keep.End = res.BottomPos.Start
		}
		// short reads can have overlapping front and rear windows
		if keep.End <= keep.Start {
			if res.UseTop {
				return res.TopPos
			}
			return res.BottomPos
		}
	}

	if keep.End <= keep.Start {
		return message.Interval{Start: 0, End: n}
	}
	return keep
}

// Trim cuts a read down to interval, keeping qualities, moves and mod-base
// probabilities aligned with the sequence.
func Trim(r *message.Read, interval message.Interval) {
	n := len(r.Seq)
	if interval.Start <= 0 && interval.End >= n {
		return
	}
	r.Seq = message.TrimSequence(r.Seq, interval)
	if r.Qual != "" {
		r.Qual = message.TrimSequence(r.Qual, interval)
	}
	dropped, moves := message.TrimMoveTable(r.Moves, interval)
	if r.Moves != nil {
		r.Moves = moves
		r.NumTrimmedSamples += dropped * r.ModelStride
	}
	if r.ModBaseInfo != nil && len(r.ModBaseProbs) > 0 {
		channels := len(r.ModBaseInfo.Alphabet)
		r.ModBaseProbs = message.TrimQuality(r.ModBaseProbs, message.Interval{
			Start: interval.Start * channels,
			End:   interval.End * channels,
		})
	}
}

package align

import (
	"sort"
	"strings"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

// Options tunes seeding and acceptance.
type Options struct {
	MinSeeds    int     // seeds a placement needs
	MaxOcc      int     // k-mers more frequent than this are ignored
	BandWidth   int     // diagonal band grouping seeds
	MaxEditRate float64 // edits per aligned query base
	Secondary   int     // extra placements reported per read
}

// DefaultOptions returns settings suited to noisy long reads.
func DefaultOptions() Options {
	return Options{
		MinSeeds:    3,
		MaxOcc:      200,
		BandWidth:   64,
		MaxEditRate: 0.3,
		Secondary:   0,
	}
}

// maxMapQ is reported for unique placements.
const maxMapQ = 60

// Aligner places reads on an indexed reference. It is safe for concurrent
// use.
type Aligner struct {
	idx  *Index
	opts Options
}

// NewAligner creates an aligner over idx.
func NewAligner(idx *Index, opts Options) *Aligner {
	return &Aligner{idx: idx, opts: opts}
}

type candidate struct {
	chain
	reverse bool
}

// Align returns the read's placements, primary first. Unplaced reads return
// nil.
func (a *Aligner) Align(seq string) []message.Alignment {
	if len(seq) < a.idx.k {
		return nil
	}
	seq = strings.ToUpper(seq)
	rc := message.ReverseComplement(seq)

	var cands []candidate
	for _, c := range a.idx.chains(seq, a.opts.MaxOcc, a.opts.BandWidth) {
		cands = append(cands, candidate{chain: c})
	}
	for _, c := range a.idx.chains(rc, a.opts.MaxOcc, a.opts.BandWidth) {
		cands = append(cands, candidate{chain: c, reverse: true})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].seeds > cands[j].seeds })
	if len(cands) == 0 || cands[0].seeds < a.opts.MinSeeds {
		return nil
	}
	second := 0
	if len(cands) > 1 {
		second = cands[1].seeds
	}

	n := 1
	for n < len(cands) && n <= a.opts.Secondary && cands[n].seeds >= a.opts.MinSeeds {
		n++
	}

	var out []message.Alignment
	for rank, c := range cands[:n] {
		query := seq
		if c.reverse {
			query = rc
		}
		aln, ok := a.place(query, c)
		if !ok {
			continue
		}
		if rank == 0 {
			aln.MapQ = mapQ(c.seeds, second)
		}
		out = append(out, aln)
	}
	return out
}

func (a *Aligner) place(query string, c candidate) (message.Alignment, bool) {
	target := a.idx.targets[c.target]
	pad := padFor(len(query), a.opts.BandWidth)
	lo := max(c.diag()-pad, 0)
	hi := min(c.diag()+len(query)+pad, len(target.Seq))
	if hi <= lo {
		return message.Alignment{}, false
	}
	p, ok := Glocal(query, target.Seq[lo:hi], pad)
	if !ok || float64(p.Edits) > a.opts.MaxEditRate*float64(len(query)) {
		return message.Alignment{}, false
	}
	return message.Alignment{
		RefName:   target.Name,
		RefStart:  lo + p.RefStart,
		RefEnd:    lo + p.RefEnd,
		Reverse:   c.reverse,
		Cigar:     message.FormatCigar(p.Cigar),
		Matches:   p.Matches,
		EditCount: p.Edits,
	}, true
}

func padFor(n, bandWidth int) int {
	return max(bandWidth, min(n/10, 500))
}

func mapQ(best, second int) int {
	if second == 0 {
		return maxMapQ
	}
	q := int(float64(maxMapQ) * (1 - float64(second)/float64(best)))
	return max(0, min(maxMapQ, q))
}

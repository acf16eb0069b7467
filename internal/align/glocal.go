package align

import (
	"math"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

const (
	opMatch uint8 = iota
	opDel         // consumes reference
	opIns         // consumes query
)

// Placement is query aligned end to end inside a reference window.
type Placement struct {
	RefStart int // in the window
	RefEnd   int
	Cigar    []message.CigarOp
	Edits    int
	Matches  int
}

// Glocal aligns the whole query against ref with free leading and trailing
// reference. Query base i may only pair with reference bases in
// [i, i+2*pad], so ref should extend pad bases beyond the expected placement
// on each side.
func Glocal(query, ref string, pad int) (Placement, bool) {
	n, m := len(query), len(ref)
	if n == 0 || m == 0 {
		return Placement{}, false
	}
	w := 2*pad + 1
	const inf = math.MaxInt32 / 2

	prev := make([]int32, w)
	cur := make([]int32, w)
	trace := make([]uint8, (n+1)*w)
	// row 0: any reference start is free
	for k := 0; k < w; k++ {
		if k <= m {
			prev[k] = 0
		} else {
			prev[k] = inf
		}
	}

	for i := 1; i <= n; i++ {
		qb := query[i-1]
		for k := 0; k < w; k++ {
			j := i + k
			cur[k] = inf
			if j > m {
				continue
			}
			best, op := int32(inf), opMatch
			// diagonal keeps k
			if j >= 1 && prev[k] < inf {
				cost := prev[k]
				if qb != ref[j-1] {
					cost++
				}
				best = cost
			}
			// deletion: from (i, j-1), k-1
			if k > 0 && cur[k-1] < inf && cur[k-1]+1 < best {
				best, op = cur[k-1]+1, opDel
			}
			// insertion: from (i-1, j), k+1
			if k+1 < w && prev[k+1] < inf && prev[k+1]+1 < best {
				best, op = prev[k+1]+1, opIns
			}
			cur[k] = best
			trace[i*w+k] = op
		}
		prev, cur = cur, prev
	}

	bestK, bestCost := -1, int32(inf)
	for k := 0; k < w; k++ {
		if prev[k] < bestCost {
			bestK, bestCost = k, prev[k]
		}
	}
	if bestK < 0 {
		return Placement{}, false
	}

	var ops []message.CigarOp
	push := func(op byte) {
		if n := len(ops); n > 0 && ops[n-1].Op == op {
			ops[n-1].Len++
			return
		}
		ops = append(ops, message.CigarOp{Op: op, Len: 1})
	}

	i, k := n, bestK
	p := Placement{RefEnd: n + bestK, Edits: int(bestCost)}
	for i > 0 {
		j := i + k
		switch trace[i*w+k] {
		case opMatch:
			if query[i-1] == ref[j-1] {
				p.Matches++
			}
			push('M')
			i--
		case opDel:
			push('D')
			k--
		case opIns:
			push('I')
			i--
			k++
		}
	}
	p.RefStart = i + k

	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	p.Cigar = ops
	return p, true
}

// ReverseCigar returns ops in reverse order, the CIGAR of both sequences
// reverse-complemented.
func ReverseCigar(ops []message.CigarOp) []message.CigarOp {
	out := make([]message.CigarOp, len(ops))
	for i, op := range ops {
		out[len(ops)-1-i] = op
	}
	return out
}

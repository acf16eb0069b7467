package align

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidIndex = errors.New("invalid index")

// MaxK is the largest k-mer packed into a 64-bit code.
const MaxK = 31

// Target is a named sequence held by an index.
type Target struct {
	Name string
	Seq  string
}

type hit struct {
	target int32
	pos    int32
}

// Index maps every k-mer of its targets to where it occurs.
type Index struct {
	k       int
	targets []Target
	table   map[uint64][]hit
}

// NewIndex builds an index over targets. Sequences are upper-cased; k-mers
// containing anything but ACGT are skipped.
func NewIndex(targets []Target, k int) (*Index, error) {
	if k < 4 || k > MaxK {
		return nil, fmt.Errorf("%w: k must be in [4, %d], got %d", ErrInvalidIndex, MaxK, k)
	}
	idx := &Index{k: k, targets: make([]Target, len(targets)), table: make(map[uint64][]hit)}
	for i, t := range targets {
		t.Seq = strings.ToUpper(t.Seq)
		idx.targets[i] = t
		forEachKmer(t.Seq, k, func(pos int, code uint64) {
			idx.table[code] = append(idx.table[code], hit{target: int32(i), pos: int32(pos)})
		})
	}
	return idx, nil
}

// K returns the seed length.
func (idx *Index) K() int { return idx.k }

// Len returns the number of targets.
func (idx *Index) Len() int { return len(idx.targets) }

// Target returns target i.
func (idx *Index) Target(i int) Target { return idx.targets[i] }

var baseCode = [256]int8{}

func init() {
	for i := range baseCode {
		baseCode[i] = -1
	}
	for i, b := range "ACGT" {
		baseCode[b] = int8(i)
		baseCode[b-'A'+'a'] = int8(i)
	}
}

// forEachKmer calls fn with the start and 2-bit code of every k-mer of seq
// made of ACGT only.
func forEachKmer(seq string, k int, fn func(pos int, code uint64)) {
	mask := uint64(1)<<(2*k) - 1
	var code uint64
	valid := 0
	for i := 0; i < len(seq); i++ {
		c := baseCode[seq[i]]
		if c < 0 {
			valid = 0
			code = 0
			continue
		}
		code = (code<<2 | uint64(c)) & mask
		valid++
		if valid >= k {
			fn(i-k+1, code)
		}
	}
}

// chain is a group of seeds sharing a diagonal band on one target. The
// diagonal is target position minus query position.
type chain struct {
	target  int
	seeds   int
	diagSum int
	qMin    int
	qMax    int // exclusive
}

func (c chain) diag() int {
	return floorDiv(c.diagSum+c.seeds/2, c.seeds)
}

type chainKey struct {
	target int
	band   int
}

// chains collects seeds of query against the index, grouped by target and
// diagonal band, best first. k-mers occurring more than maxOcc times are
// ignored as repeats.
func (idx *Index) chains(query string, maxOcc, bandWidth int) []chain {
	buckets := make(map[chainKey]*chain)
	forEachKmer(query, idx.k, func(qpos int, code uint64) {
		hits := idx.table[code]
		if len(hits) == 0 || len(hits) > maxOcc {
			return
		}
		for _, h := range hits {
			diag := int(h.pos) - qpos
			key := chainKey{target: int(h.target), band: floorDiv(diag, bandWidth)}
			c, ok := buckets[key]
			if !ok {
				c = &chain{target: key.target, qMin: qpos, qMax: qpos + idx.k}
				buckets[key] = c
			}
			c.seeds++
			c.diagSum += diag
			c.qMin = min(c.qMin, qpos)
			c.qMax = max(c.qMax, qpos+idx.k)
		}
	})

	keys := make([]chainKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].target != keys[j].target {
			return keys[i].target < keys[j].target
		}
		return keys[i].band < keys[j].band
	})

	// neighbouring bands of one target belong to the same placement
	var out []chain
	for i, k := range keys {
		c := *buckets[k]
		if i > 0 && keys[i-1].target == k.target && keys[i-1].band == k.band-1 {
			last := &out[len(out)-1]
			last.seeds += c.seeds
			last.diagSum += c.diagSum
			last.qMin = min(last.qMin, c.qMin)
			last.qMax = max(last.qMax, c.qMax)
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].seeds > out[j].seeds })
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

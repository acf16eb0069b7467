package message

import (
	"math"
	"strings"
)

var complement = [256]byte{}

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	pairs := map[byte]byte{
		'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'U': 'A', 'N': 'N',
		'a': 't', 'c': 'g', 'g': 'c', 't': 'a', 'u': 'a', 'n': 'n',
	}
	for b, c := range pairs {
		complement[b] = c
	}
}

// ReverseComplement returns the reverse complement of seq
func ReverseComplement(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[len(seq)-1-i] = complement[seq[i]]
	}
	return string(out)
}

// Reverse returns s reversed byte-wise (used for qualities)
func Reverse(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		out[len(s)-1-i] = s[i]
	}
	return string(out)
}

// PhredToErrorProb converts a phred+33 character into an error probability
func PhredToErrorProb(q byte) float64 {
	return math.Pow(10, -float64(int(q)-33)/10)
}

// ErrorProbToPhred converts an error probability into a phred score
func ErrorProbToPhred(p float64) float64 {
	if p <= 0 {
		return 60
	}
	return -10 * math.Log10(p)
}

// PhredChar encodes a numeric quality as a phred+33 character
func PhredChar(q int) byte {
	if q < 0 {
		q = 0
	}
	if q > 93 {
		q = 93
	}
	return byte(q + 33)
}

// UniformQual returns a quality string of n copies of q
func UniformQual(n, q int) string {
	return strings.Repeat(string(PhredChar(q)), n)
}

// TrimSequence keeps the [interval.Start, interval.End) slice of seq
func TrimSequence(seq string, interval Interval) string {
	start, end := clampInterval(interval, len(seq))
	return seq[start:end]
}

// TrimQuality keeps the [interval.Start, interval.End) slice of qual
func TrimQuality(qual []uint8, interval Interval) []uint8 {
	start, end := clampInterval(interval, len(qual))
	out := make([]uint8, end-start)
	copy(out, qual[start:end])
	return out
}

// TrimMoveTable trims a move table to the bases in interval. It returns the
// number of signal positions dropped from the front and the trimmed moves.
func TrimMoveTable(moves []uint8, interval Interval) (int, []uint8) {
	if len(moves) == 0 {
		return 0, nil
	}
	base := -1
	first, last := -1, len(moves)
	for i, m := range moves {
		if m == 1 {
			base++
			if base == interval.Start && first < 0 {
				first = i
			}
			if base == interval.End {
				last = i
				break
			}
		}
	}
	if first < 0 {
		return 0, nil
	}
	out := make([]uint8, last-first)
	copy(out, moves[first:last])
	return first, out
}

func clampInterval(interval Interval, n int) (int, int) {
	start, end := interval.Start, interval.End
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		start = end
	}
	return start, end
}

// BaseSpans returns the signal range each called base was emitted from,
// given a move table with one entry per stride samples.
func BaseSpans(moves []uint8, stride, signalLen int) []Interval {
	var spans []Interval
	for blk, mv := range moves {
		if mv != 1 {
			continue
		}
		if n := len(spans); n > 0 {
			spans[n-1].End = blk * stride
		}
		spans = append(spans, Interval{Start: blk * stride, End: len(moves) * stride})
	}
	for i := range spans {
		if spans[i].End > signalLen {
			spans[i].End = signalLen
		}
		if spans[i].Start > spans[i].End {
			spans[i].Start = spans[i].End
		}
	}
	return spans
}

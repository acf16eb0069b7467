package hts

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

// pafMapQ is reported for every correction overlap.
const pafMapQ = 60

// AppendPAF renders each overlap of a as one PAF line, with the supporting
// read as query and the corrected read as target.
func AppendPAF(dst []byte, a *message.CorrectionAlignments) []byte {
	b := bytes.NewBuffer(dst)
	for _, ov := range a.Overlaps {
		strand := '+'
		if !ov.Forward {
			strand = '-'
		}
		matches, block := 0, 0
		for _, op := range ov.Cigar {
			switch op.Op {
			case 'M', '=':
				matches += op.Len
			}
			if op.Op != 'S' && op.Op != 'H' {
				block += op.Len
			}
		}
		fmt.Fprintf(b, "%s\t%d\t%d\t%d\t%c\t%s\t%d\t%d\t%d\t%d\t%d\t%d\tcg:Z:%s\n",
			ov.QName, ov.QLen, ov.QStart, ov.QEnd, strand,
			a.ReadName, ov.TLen, ov.TStart, ov.TEnd,
			matches, block, pafMapQ, message.FormatCigar(ov.Cigar))
	}
	return b.Bytes()
}

// ParsePAF parses one PAF line back into an overlap. Sequence fields are
// not part of PAF and stay empty.
func ParsePAF(line string) (target string, ov message.Overlap, err error) {
	fields := strings.Split(strings.TrimRight(line, "\n"), "\t")
	if len(fields) < 12 {
		return "", ov, fmt.Errorf("%w: paf line has %d fields", ErrFormat, len(fields))
	}
	ints := make([]int, 0, 6)
	for _, i := range []int{1, 2, 3, 6, 7, 8} {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return "", ov, fmt.Errorf("%w: paf field %d: %v", ErrFormat, i+1, err)
		}
		ints = append(ints, n)
	}
	ov = message.Overlap{
		QName:   fields[0],
		QLen:    ints[0],
		QStart:  ints[1],
		QEnd:    ints[2],
		Forward: fields[4] == "+",
		TLen:    ints[3],
		TStart:  ints[4],
		TEnd:    ints[5],
	}
	for _, tag := range fields[12:] {
		if cg, ok := strings.CutPrefix(tag, "cg:Z:"); ok {
			ov.Cigar, err = message.ParseCigar(cg)
			if err != nil {
				return "", ov, fmt.Errorf("%w: %v", ErrFormat, err)
			}
		}
	}
	return fields[5], ov, nil
}
